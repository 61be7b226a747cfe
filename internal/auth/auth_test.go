package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "auth.db"), nil)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, "test-secret", time.Hour), store
}

func TestSignUpLoginLogout(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, models.Credentials{Email: "wren@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	profile, err := store.GetProfile(ctx, res.User.ID)
	if err != nil || profile.DisplayName != "wren" {
		t.Fatalf("profile = %+v, %v", profile, err)
	}

	if _, err := svc.Login(ctx, models.Credentials{Email: "wren@example.com", Password: "wrong-one"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, models.Credentials{Email: "nobody@example.com", Password: "hunter22"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	login, err := svc.Login(ctx, models.Credentials{Email: "WREN@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	id, err := svc.Authenticate(ctx, login.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.User.ID != res.User.ID {
		t.Fatalf("identity user = %s, want %s", id.User.ID, res.User.ID)
	}

	if err := svc.Logout(ctx, id.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, login.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token should be revoked, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, res.Token); err != nil {
		t.Fatalf("other session should survive: %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, models.Credentials{Email: "nope", Password: "hunter22"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.SignUp(ctx, models.Credentials{Email: "a@b.c", Password: "123"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if _, err := svc.SignUp(ctx, models.Credentials{Email: "a@b.c", Password: "hunter22"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := svc.SignUp(ctx, models.Credentials{Email: "a@b.c", Password: "hunter22"}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.SignUp(ctx, models.Credentials{Email: "a@b.c", Password: "hunter22"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	other := NewService(store, "another-secret", time.Hour)
	if _, err := other.Authenticate(ctx, res.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage: expected ErrInvalidToken, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Authenticate(ctx, res.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/realtime?access_token=q", nil)
	if got := TokenFromRequest(r); got != "q" {
		t.Fatalf("query token = %q", got)
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := TokenFromRequest(r); got != "abc" {
		t.Fatalf("bearer token = %q", got)
	}
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("basic auth should not count, got %q", got)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context should carry no identity")
	}
	ctx := WithIdentity(context.Background(), &Identity{SessionID: "s"})
	id, ok := FromContext(ctx)
	if !ok || id.SessionID != "s" {
		t.Fatalf("identity = %+v, %v", id, ok)
	}
}
