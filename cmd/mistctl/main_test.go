package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meur/mistbook/internal/api"
	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/client"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/session"
	"github.com/meur/mistbook/internal/storage"
)

func newServer(t *testing.T) string {
	t.Helper()
	broker := realtime.NewBroker(16)
	store, err := storage.New(filepath.Join(t.TempDir(), "mistctl.db"), broker)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	ctx := context.Background()
	store.SeedDefs(ctx, models.DefMightLevels, []string{models.MightOrigin, models.MightAdventure, models.MightGreatness})
	store.SeedDefs(ctx, models.DefThemeTypes, []string{"Mythos", models.ThemeTypeFellow})

	srv := httptest.NewServer(api.New(store, auth.NewService(store, "test-secret", time.Hour), broker, api.Options{}))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return srv.URL
}

// mistctl runs one command against url and returns its output.
func mistctl(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(append([]string{"--server", url}, args...), &out)
	return out.String(), err
}

func TestPlayerFlow(t *testing.T) {
	url := newServer(t)
	t.Setenv("MISTCTL_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	ctx := context.Background()

	gm := client.New(url, &session.Holder{}, client.Options{})
	defer gm.Close()
	if _, err := gm.SignUp(ctx, models.Credentials{Email: "gm@example.com", Password: "hunter22"}); err != nil {
		t.Fatalf("gm signup: %v", err)
	}
	adv, err := gm.CreateAdventure(ctx, models.AdventureCreate{Name: "Mist Road"})
	if err != nil {
		t.Fatalf("create adventure: %v", err)
	}

	if _, err := mistctl(t, url, "whoami"); err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("whoami before login: %v", err)
	}

	out, err := mistctl(t, url, "signup", "--email", "rook@example.com", "--password", "hunter22")
	if err != nil || !strings.Contains(out, "Signed in as rook@example.com") {
		t.Fatalf("signup = %q, %v", out, err)
	}

	out, err = mistctl(t, url, "landing")
	if err != nil || !strings.Contains(out, "no characters yet") {
		t.Fatalf("empty landing = %q, %v", out, err)
	}

	out, err = mistctl(t, url, "characters", "--new", "Rook")
	if err != nil || !strings.Contains(out, "Rook") {
		t.Fatalf("characters = %q, %v", out, err)
	}

	out, err = mistctl(t, url, "landing")
	if err != nil {
		t.Fatalf("landing: %v", err)
	}
	characterID := strings.TrimSpace(out)
	if characterID == "" {
		t.Fatal("landing should print the new character")
	}

	if _, err := mistctl(t, url, "join", "--character", characterID, "AB"); err == nil {
		t.Fatal("short join code should fail")
	}
	out, err = mistctl(t, url, "join", "--character", characterID, strings.ToLower(adv.SubscribeCode))
	if err != nil || !strings.Contains(out, "Joined adventure") || !strings.Contains(out, "Mist Road") {
		t.Fatalf("join = %q, %v", out, err)
	}

	out, err = mistctl(t, url, "roster", adv.ID)
	if err != nil || !strings.Contains(out, "Rook") || !strings.Contains(out, adv.SubscribeCode) {
		t.Fatalf("roster = %q, %v", out, err)
	}

	out, err = mistctl(t, url, "leave", "--character", characterID)
	if err != nil || !strings.Contains(out, "Left adventure") {
		t.Fatalf("leave = %q, %v", out, err)
	}
	out, err = mistctl(t, url, "leave", "--character", characterID)
	if err != nil || !strings.Contains(out, "not in an adventure") {
		t.Fatalf("second leave = %q, %v", out, err)
	}

	if out, err = mistctl(t, url, "logout"); err != nil || !strings.Contains(out, "Signed out") {
		t.Fatalf("logout = %q, %v", out, err)
	}
	if _, err := mistctl(t, url, "characters"); err == nil {
		t.Fatal("characters after logout should fail")
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Setenv("MISTCTL_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	if _, err := mistctl(t, "http://127.0.0.1:1", "teleport"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
	out, err := mistctl(t, "http://127.0.0.1:1")
	if err != nil || !strings.Contains(out, "usage: mistctl") {
		t.Fatalf("help = %q, %v", out, err)
	}
}
