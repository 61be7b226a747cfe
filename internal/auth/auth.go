// Package auth issues and verifies player sessions. Passwords are stored as
// bcrypt hashes; a session is an HS256 JWT whose jti names a row in the
// sessions table, so signing out revokes the token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/storage"
)

const (
	issuer            = "mistbook"
	minPasswordLength = 6
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired session")
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLength)
)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, name string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, string, error)
	EnsureProfile(ctx context.Context, userID, displayName string) (*models.Profile, error)
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) error
	SessionUser(ctx context.Context, sessionID string) (*models.User, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Identity is the signed-in player behind a request.
type Identity struct {
	User      models.User
	SessionID string
	ExpiresAt time.Time
}

type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(store Store, secret string, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SignUp creates an account with its profile and signs it in.
func (s *Service) SignUp(ctx context.Context, creds models.Credentials) (*models.AuthResult, error) {
	email := strings.TrimSpace(creds.Email)
	if _, _, ok := strings.Cut(email, "@"); !ok || strings.HasPrefix(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(creds.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, email, string(hash), creds.Name)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.EnsureProfile(ctx, user.ID, user.DefaultDisplayName()); err != nil {
		return nil, err
	}
	return s.issue(ctx, *user)
}

// Login checks a password and opens a new session.
func (s *Service) Login(ctx context.Context, creds models.Credentials) (*models.AuthResult, error) {
	user, hash, err := s.store.UserByEmail(ctx, creds.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, *user)
}

func (s *Service) issue(ctx context.Context, user models.User) (*models.AuthResult, error) {
	now := s.now()
	sessionID := uuid.New().String()
	expiresAt := now.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   user.ID,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	if err := s.store.CreateSession(ctx, sessionID, user.ID, expiresAt); err != nil {
		return nil, err
	}
	return &models.AuthResult{Token: signed, ExpiresAt: expiresAt.UTC(), User: user}, nil
}

// Authenticate resolves a token to the identity of a live session.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.store.SessionUser(ctx, claims.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if user.ID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return &Identity{User: *user, SessionID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Logout ends a session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// TokenFromRequest reads a bearer token, falling back to the access_token query
// parameter that browsers must use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
