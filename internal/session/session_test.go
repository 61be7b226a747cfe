package session

import (
	"testing"
	"time"

	"github.com/meur/mistbook/internal/models"
)

func TestHolderNotifiesUntilCancelled(t *testing.T) {
	var h Holder
	var seen []*Session
	cancel := h.OnChange(func(s *Session) { seen = append(seen, s) })

	s := &Session{Token: "t", User: models.User{ID: "u"}}
	h.Set(s)
	if h.Current() != s || h.Token() != "t" {
		t.Fatalf("current = %+v", h.Current())
	}
	h.Clear()
	cancel()
	cancel()
	h.Set(s)

	if len(seen) != 2 || seen[0] != s || seen[1] != nil {
		t.Fatalf("seen = %v", seen)
	}
}

func TestGateFollowsSession(t *testing.T) {
	var h Holder
	var flips []View
	g := NewGate(&h, func(v View) { flips = append(flips, v) })
	defer g.Close()

	if g.View() != ViewLogin {
		t.Fatalf("initial view = %v", g.View())
	}
	h.Set(&Session{Token: "t"})
	if g.View() != ViewShell {
		t.Fatalf("view after login = %v", g.View())
	}
	h.Set(&Session{Token: "t2"})
	h.Clear()
	if g.View() != ViewLogin {
		t.Fatalf("view after logout = %v", g.View())
	}
	if len(flips) != 2 || flips[0] != ViewShell || flips[1] != ViewLogin {
		t.Fatalf("flips = %v", flips)
	}
}

func TestGateStartsSignedIn(t *testing.T) {
	var h Holder
	h.Set(&Session{Token: "t"})
	g := NewGate(&h, nil)
	defer g.Close()
	if g.View() != ViewShell {
		t.Fatalf("view = %v", g.View())
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	if (&Session{}).Expired(now) {
		t.Fatal("session without expiry should not expire")
	}
	if !(&Session{ExpiresAt: now}).Expired(now) {
		t.Fatal("session should expire at its deadline")
	}
}
