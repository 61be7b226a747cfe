// Package session holds the signed-in player for the whole client process and
// tells interested views when that changes.
package session

import (
	"sync"
	"time"

	"github.com/meur/mistbook/internal/models"
)

// Session is an authenticated player's token and account.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

// Expired reports whether the session has lapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Holder is the process-wide session. The zero value is ready to use and empty.
type Holder struct {
	mu        sync.RWMutex
	current   *Session
	listeners map[int]func(*Session)
	nextID    int
}

// Current returns the session, or nil when signed out.
func (h *Holder) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Token returns the current bearer token, or "".
func (h *Holder) Token() string {
	if s := h.Current(); s != nil {
		return s.Token
	}
	return ""
}

// Set replaces the session and notifies listeners.
func (h *Holder) Set(s *Session) {
	h.mu.Lock()
	h.current = s
	fns := make([]func(*Session), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Clear signs the holder out.
func (h *Holder) Clear() {
	h.Set(nil)
}

// OnChange registers fn to run after every Set. The returned func removes it.
func (h *Holder) OnChange(fn func(*Session)) (cancel func()) {
	h.mu.Lock()
	if h.listeners == nil {
		h.listeners = make(map[int]func(*Session))
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// View is what the root of the application shows.
type View int

const (
	ViewLogin View = iota
	ViewShell
)

func (v View) String() string {
	if v == ViewShell {
		return "shell"
	}
	return "login"
}

// Gate picks between the login view and the signed-in shell.
type Gate struct {
	holder *Holder
	mu     sync.Mutex
	view   View
	cancel func()
	onView func(View)
}

// NewGate starts following holder. onView, if non-nil, runs whenever the view
// flips.
func NewGate(holder *Holder, onView func(View)) *Gate {
	g := &Gate{holder: holder, onView: onView}
	g.view = viewFor(holder.Current())
	g.cancel = holder.OnChange(g.update)
	return g
}

func viewFor(s *Session) View {
	if s == nil || s.Token == "" {
		return ViewLogin
	}
	return ViewShell
}

func (g *Gate) update(s *Session) {
	v := viewFor(s)
	g.mu.Lock()
	changed := v != g.view
	g.view = v
	g.mu.Unlock()
	if changed && g.onView != nil {
		g.onView(v)
	}
}

// View returns the view to render now.
func (g *Gate) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.view
}

// Close stops following the holder.
func (g *Gate) Close() {
	g.cancel()
}
