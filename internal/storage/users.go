package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

// --- Users ---

// CreateUser stores a new account with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, name string) (*models.User, error) {
	u := &models.User{
		ID:        newID(""),
		Email:     strings.TrimSpace(email),
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, passwordHash, u.Name, u.CreatedAt)
	if err != nil {
		return nil, classify("user", err)
	}
	return u, nil
}

// UserByEmail returns the user and their password hash.
func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, string, error) {
	var u models.User
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at, password_hash FROM users WHERE email = ?
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", notFound("user")
	}
	if err != nil {
		return nil, "", err
	}
	return &u, hash, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Sessions ---

// CreateSession records a server-side session that a token refers to.
func (s *Store) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)
	`, id, userID, expiresAt.UTC(), s.now())
	return classify("session", err)
}

// SessionUser returns the user of a live session.
func (s *Store) SessionUser(ctx context.Context, sessionID string) (*models.User, error) {
	var u models.User
	var expires time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, sessionID).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session")
	}
	if err != nil {
		return nil, err
	}
	if !expires.After(s.now()) {
		return nil, notFound("session")
	}
	return &u, nil
}

// DeleteSession ends a session. Deleting an unknown session is not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
	return err
}

// PurgeSessions removes expired sessions and reports how many went.
func (s *Store) PurgeSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Profiles ---

// GetProfile returns a player's profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, active_character_id, created_at FROM profiles WHERE id = ?
	`, userID).Scan(&p.ID, &p.DisplayName, &p.ActiveCharacterID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("profile")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns the player's profile, creating it with displayName when
// it does not exist yet.
func (s *Store) EnsureProfile(ctx context.Context, userID, displayName string) (*models.Profile, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, userID, displayName, s.now())
	if err != nil {
		return nil, classify("profile", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish("profiles", realtime.OpInsert, userID, nil)
	}
	return s.GetProfile(ctx, userID)
}

// UpdateProfile patches a profile. An active character must belong to the player.
func (s *Store) UpdateProfile(ctx context.Context, userID string, req models.ProfileUpdate) (*models.Profile, error) {
	var p patch
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, newError(ErrInvalid, "display name required")
		}
		p.set("display_name", name)
	}
	if req.ActiveCharacterID.Set {
		if id := req.ActiveCharacterID.Value; id != nil {
			if err := s.requireCharacterOwner(ctx, *id, userID); err != nil {
				return nil, err
			}
		}
		p.set("active_character_id", req.ActiveCharacterID.Value)
	}
	if err := p.exec(ctx, s.db, "profiles", userID); err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publish("profiles", realtime.OpUpdate, userID, nil)
	}
	return s.GetProfile(ctx, userID)
}
