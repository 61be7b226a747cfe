package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

const joinCodeAttempts = 8

// AdventureQuery selects the adventures visible to a player.
type AdventureQuery struct {
	PlayerID  string
	OwnedOnly bool
	Limit     int
}

func scanAdventure(row scanner) (*models.Adventure, error) {
	var a models.Adventure
	if err := row.Scan(&a.ID, &a.Name, &a.SubscribeCode, &a.OwnerPlayerID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func adventureChange(a *models.Adventure) map[string]string {
	return map[string]string{"owner_player_id": a.OwnerPlayerID}
}

// ListAdventures returns the adventures a player owns or has a character in,
// newest first.
func (s *Store) ListAdventures(ctx context.Context, q AdventureQuery) ([]models.Adventure, error) {
	query := `
		SELECT a.id, a.name, a.subscribe_code, a.owner_player_id, a.created_at
		FROM adventures a
		WHERE a.owner_player_id = ?`
	args := []interface{}{q.PlayerID}
	if !q.OwnedOnly {
		query += ` OR EXISTS (
			SELECT 1 FROM fellowships f JOIN characters c ON c.fellowship_id = f.id
			WHERE f.adventure_id = a.id AND c.player_id = ?
		)`
		args = append(args, q.PlayerID)
	}
	query += " ORDER BY a.created_at DESC, a.id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Adventure
	for rows.Next() {
		a, err := scanAdventure(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// GetAdventure returns an adventure by id.
func (s *Store) GetAdventure(ctx context.Context, id string) (*models.Adventure, error) {
	a, err := scanAdventure(s.db.QueryRowContext(ctx, `
		SELECT id, name, subscribe_code, owner_player_id, created_at FROM adventures WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("adventure")
	}
	return a, err
}

// CreateAdventure creates an adventure with a fresh join code and its fellowship.
func (s *Store) CreateAdventure(ctx context.Context, ownerID string, req models.AdventureCreate) (*models.Adventure, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
	}
	a := &models.Adventure{
		ID:            newID(req.ID),
		Name:          name,
		OwnerPlayerID: ownerID,
		CreatedAt:     s.now(),
	}

	var fellowshipID string
	for attempt := 0; ; attempt++ {
		a.SubscribeCode = newJoinCode()
		var err error
		fellowshipID, err = s.insertAdventure(ctx, a)
		if err == nil {
			break
		}
		if !codeTaken(err) || attempt == joinCodeAttempts-1 {
			return nil, classify("adventure", err)
		}
	}

	s.publish("adventures", realtime.OpInsert, a.ID, adventureChange(a))
	s.publish("fellowships", realtime.OpInsert, fellowshipID, map[string]string{"adventure_id": a.ID})
	return a, nil
}

func (s *Store) insertAdventure(ctx context.Context, a *models.Adventure) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO adventures (id, name, subscribe_code, owner_player_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.SubscribeCode, a.OwnerPlayerID, a.CreatedAt)
	if err != nil {
		return "", err
	}

	fellowshipID := newID("")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fellowships (id, adventure_id, created_at) VALUES (?, ?, ?)
	`, fellowshipID, a.ID, a.CreatedAt)
	if err != nil {
		return "", err
	}
	return fellowshipID, tx.Commit()
}

// newJoinCode draws four letters from a random UUID.
func newJoinCode() string {
	u := uuid.New()
	b := make([]byte, models.JoinCodeLength)
	for i := range b {
		b[i] = 'A' + u[i]%26
	}
	return string(b)
}

func codeTaken(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		se.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(se.Error(), "subscribe_code")
}

// UpdateAdventure renames an adventure.
func (s *Store) UpdateAdventure(ctx context.Context, id string, req models.AdventureUpdate) (*models.Adventure, error) {
	var p patch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
		}
		p.set("name", name)
	}
	if err := p.exec(ctx, s.db, "adventures", id); err != nil {
		return nil, err
	}
	a, err := s.GetAdventure(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publish("adventures", realtime.OpUpdate, a.ID, adventureChange(a))
	}
	return a, nil
}

// DeleteAdventure deletes an adventure and its fellowship. Enrolled characters
// are released, not deleted.
func (s *Store) DeleteAdventure(ctx context.Context, id string) error {
	a, err := s.GetAdventure(ctx, id)
	if err != nil {
		return err
	}
	f, err := s.FellowshipByAdventure(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	members, err := s.fellowshipMembers(ctx, f)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM adventures WHERE id = ?", id); err != nil {
		return err
	}

	s.publish("adventures", realtime.OpDelete, id, adventureChange(a))
	if f != nil {
		s.publish("fellowships", realtime.OpDelete, f.ID, map[string]string{"adventure_id": id})
	}
	for _, c := range members {
		s.publish("characters", realtime.OpUpdate, c.ID, characterChange(&c))
	}
	return nil
}

func (s *Store) fellowshipMembers(ctx context.Context, f *models.Fellowship) ([]models.Character, error) {
	if f == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+characterColumns+" FROM characters WHERE fellowship_id = ?", f.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// --- Fellowships ---

func scanFellowship(row scanner) (*models.Fellowship, error) {
	var f models.Fellowship
	err := row.Scan(&f.ID, &f.Name, &f.AdventureID, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("fellowship")
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFellowship returns a fellowship by id.
func (s *Store) GetFellowship(ctx context.Context, id string) (*models.Fellowship, error) {
	return scanFellowship(s.db.QueryRowContext(ctx,
		"SELECT id, name, adventure_id, created_at FROM fellowships WHERE id = ?", id))
}

// FellowshipByAdventure returns the fellowship of an adventure.
func (s *Store) FellowshipByAdventure(ctx context.Context, adventureID string) (*models.Fellowship, error) {
	return scanFellowship(s.db.QueryRowContext(ctx,
		"SELECT id, name, adventure_id, created_at FROM fellowships WHERE adventure_id = ?", adventureID))
}
