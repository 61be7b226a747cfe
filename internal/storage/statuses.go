package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

const statusColumns = `id, name, is_negative, tier1, tier2, tier3, tier4, tier5, tier6,
	character_id, fellowship_id, adventure_id, created_at`

func scanStatus(row scanner) (*models.Status, error) {
	var st models.Status
	err := row.Scan(&st.ID, &st.Name, &st.IsNegative,
		&st.Tier1, &st.Tier2, &st.Tier3, &st.Tier4, &st.Tier5, &st.Tier6,
		&st.CharacterID, &st.FellowshipID, &st.AdventureID, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func statusChange(st *models.Status) map[string]string {
	return ownerCols(models.OwnerColumns{CharacterID: st.CharacterID, FellowshipID: st.FellowshipID, AdventureID: st.AdventureID})
}

// ListStatuses returns the statuses of o in creation order.
func (s *Store) ListStatuses(ctx context.Context, o models.Owner) ([]models.Status, error) {
	if !o.ValidFor(models.OwnerCharacter, models.OwnerFellowship, models.OwnerAdventure) {
		return nil, newError(ErrInvalid, "%s", models.ErrInvalidOwner.Error())
	}
	column := string(o.Kind) + "_id"

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+statusColumns+" FROM statuses WHERE "+column+" = ? ORDER BY created_at, id", o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Status
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *st)
	}
	return list, rows.Err()
}

// GetStatus returns a status by id.
func (s *Store) GetStatus(ctx context.Context, id string) (*models.Status, error) {
	st, err := scanStatus(s.db.QueryRowContext(ctx, "SELECT "+statusColumns+" FROM statuses WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("status")
	}
	return st, err
}

// CreateStatus inserts a status with every tier clear.
func (s *Store) CreateStatus(ctx context.Context, req models.StatusCreate) (*models.Status, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(ErrInvalid, "%s", err.Error())
	}
	st := req.Row()
	st.ID = newID(st.ID)
	st.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (id, name, is_negative, character_id, fellowship_id, adventure_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.ID, st.Name, st.IsNegative, st.CharacterID, st.FellowshipID, st.AdventureID, st.CreatedAt)
	if err != nil {
		return nil, classify("status", err)
	}
	s.publish("statuses", realtime.OpInsert, st.ID, statusChange(&st))
	return &st, nil
}

// UpdateStatus patches a status. Tiers are independent of one another.
func (s *Store) UpdateStatus(ctx context.Context, id string, req models.StatusUpdate) (*models.Status, error) {
	var p patch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
		}
		p.set("name", name)
	}
	if req.IsNegative != nil {
		p.set("is_negative", *req.IsNegative)
	}
	for i, v := range []*bool{req.Tier1, req.Tier2, req.Tier3, req.Tier4, req.Tier5, req.Tier6} {
		if v != nil {
			p.set(fmt.Sprintf("tier%d", i+1), *v)
		}
	}

	if err := p.exec(ctx, s.db, "statuses", id); err != nil {
		return nil, err
	}
	st, err := s.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publish("statuses", realtime.OpUpdate, st.ID, statusChange(st))
	}
	return st, nil
}

// DeleteStatus deletes a status.
func (s *Store) DeleteStatus(ctx context.Context, id string) error {
	st, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM statuses WHERE id = ?", id); err != nil {
		return err
	}
	s.publish("statuses", realtime.OpDelete, id, statusChange(st))
	return nil
}
