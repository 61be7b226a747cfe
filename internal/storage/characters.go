package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

const characterColumns = `id, name, player_id, fellowship_id, promise,
	appearance, personality, background, relationships, aspirations, achievements,
	brief_trait_physical, brief_trait_personality, brief_race, brief_class, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCharacter(row scanner) (*models.Character, error) {
	var c models.Character
	err := row.Scan(&c.ID, &c.Name, &c.PlayerID, &c.FellowshipID, &c.Promise,
		&c.Appearance, &c.Personality, &c.Background, &c.Relationships, &c.Aspirations, &c.Achievements,
		&c.TraitPhysical, &c.TraitPersonality, &c.Race, &c.Class, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func characterChange(c *models.Character) map[string]string {
	return map[string]string{"player_id": c.PlayerID, "fellowship_id": deref(c.FellowshipID)}
}

// ListCharacters returns a player's characters, newest first. limit <= 0 means all.
func (s *Store) ListCharacters(ctx context.Context, playerID string, limit int) ([]models.Character, error) {
	query := "SELECT " + characterColumns + " FROM characters WHERE player_id = ? ORDER BY created_at DESC, id DESC"
	args := []interface{}{playerID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// GetCharacter returns a character by id.
func (s *Store) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	c, err := scanCharacter(s.db.QueryRowContext(ctx,
		"SELECT "+characterColumns+" FROM characters WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("character")
	}
	return c, err
}

// CreateCharacter creates a character for playerID, honouring a client-supplied id.
func (s *Store) CreateCharacter(ctx context.Context, playerID string, req models.CharacterCreate) (*models.Character, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
	}
	c := &models.Character{
		ID:        newID(req.ID),
		Name:      name,
		PlayerID:  playerID,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (id, name, player_id, created_at) VALUES (?, ?, ?, ?)
	`, c.ID, c.Name, c.PlayerID, c.CreatedAt)
	if err != nil {
		return nil, classify("character", err)
	}
	s.publish("characters", realtime.OpInsert, c.ID, characterChange(c))
	return c, nil
}

// UpdateCharacter patches a character. Moving it into a fellowship goes through
// JoinFellowshipByCode; the patch may only clear the reference.
func (s *Store) UpdateCharacter(ctx context.Context, id string, req models.CharacterUpdate) (*models.Character, error) {
	before, err := s.GetCharacter(ctx, id)
	if err != nil {
		return nil, err
	}

	var p patch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
		}
		p.set("name", name)
	}
	if req.FellowshipID.Set {
		if req.FellowshipID.Value != nil {
			return nil, newError(ErrInvalid, "join a fellowship with its adventure code")
		}
		p.set("fellowship_id", nil)
	}
	if req.Promise != nil {
		if *req.Promise != models.ClampPromise(*req.Promise) {
			return nil, newError(ErrInvalid, "%s", models.ErrPromiseRange.Error())
		}
		p.set("promise", *req.Promise)
	}
	for _, f := range []struct {
		col string
		v   *string
	}{
		{"appearance", req.Appearance},
		{"personality", req.Personality},
		{"background", req.Background},
		{"relationships", req.Relationships},
		{"aspirations", req.Aspirations},
		{"achievements", req.Achievements},
		{"brief_trait_physical", req.TraitPhysical},
		{"brief_trait_personality", req.TraitPersonality},
		{"brief_race", req.Race},
		{"brief_class", req.Class},
	} {
		if f.v != nil {
			p.set(f.col, *f.v)
		}
	}

	if err := p.exec(ctx, s.db, "characters", id); err != nil {
		return nil, err
	}
	after, err := s.GetCharacter(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publishCharacterUpdate(before, after)
	}
	return after, nil
}

// publishCharacterUpdate announces the update under the new fellowship and, when
// it changed, under the old one so roster watchers of either see it.
func (s *Store) publishCharacterUpdate(before, after *models.Character) {
	s.publish("characters", realtime.OpUpdate, after.ID, characterChange(after))
	if deref(before.FellowshipID) != deref(after.FellowshipID) && before.FellowshipID != nil {
		s.publish("characters", realtime.OpUpdate, before.ID, characterChange(before))
	}
}

// DeleteCharacter deletes a character; its themes, tags, statuses and
// quintessences go with it.
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	c, err := s.GetCharacter(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM characters WHERE id = ?", id); err != nil {
		return err
	}
	s.publish("characters", realtime.OpDelete, id, characterChange(c))
	return nil
}

// --- Quintessences ---

// CharacterQuintessences lists the quintessences a character holds, by name.
func (s *Store) CharacterQuintessences(ctx context.Context, characterID string) ([]models.Quintessence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.name FROM character_quintessences cq
		JOIN quintessence_defs q ON q.id = cq.quintessence_id
		WHERE cq.character_id = ?
		ORDER BY q.name COLLATE NOCASE
	`, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Quintessence
	for rows.Next() {
		var q models.Quintessence
		if err := rows.Scan(&q.QuintessenceID, &q.Name); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// AddQuintessence grants a quintessence. Granting one twice is a no-op.
func (s *Store) AddQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO character_quintessences (character_id, quintessence_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, characterID, quintessenceID)
	if err != nil {
		return classify("quintessence", err)
	}
	s.publish("character_quintessences", realtime.OpInsert, characterID, map[string]string{"character_id": characterID})
	return nil
}

// RemoveQuintessence takes a quintessence away from a character.
func (s *Store) RemoveQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM character_quintessences WHERE character_id = ? AND quintessence_id = ?",
		characterID, quintessenceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("quintessence")
	}
	s.publish("character_quintessences", realtime.OpDelete, characterID, map[string]string{"character_id": characterID})
	return nil
}
