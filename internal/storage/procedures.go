package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

// JoinFellowshipByCode enrolls one of userID's characters in the fellowship of
// the adventure whose join code matches.
func (s *Store) JoinFellowshipByCode(ctx context.Context, userID string, req models.JoinRequest) (*models.JoinedAdventure, error) {
	code := models.JoinCodeLetters(req.JoinCode)
	if len(code) != models.JoinCodeLength {
		return nil, newError(ErrInvalid, "%s", models.ErrInvalidJoinCode.Error())
	}
	if err := s.requireCharacterOwner(ctx, req.CharacterID, userID); err != nil {
		return nil, err
	}
	before, err := s.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}

	var j models.JoinedAdventure
	err = s.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.subscribe_code, f.id, f.name
		FROM adventures a JOIN fellowships f ON f.adventure_id = a.id
		WHERE a.subscribe_code = ?
	`, code).Scan(&j.ID, &j.Name, &j.SubscribeCode, &j.FellowshipID, &j.FellowshipName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrNotFound, "no adventure with that code")
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE characters SET fellowship_id = ? WHERE id = ?", j.FellowshipID, req.CharacterID,
	); err != nil {
		return nil, classify("character", err)
	}

	after, err := s.GetCharacter(ctx, req.CharacterID)
	if err != nil {
		return nil, err
	}
	s.publishCharacterUpdate(before, after)
	return &j, nil
}

// AdventureRoster lists the characters enrolled in an adventure with their
// player's display name and brief fields, oldest character first.
func (s *Store) AdventureRoster(ctx context.Context, adventureID string) ([]models.RosterEntry, error) {
	if _, err := s.GetAdventure(ctx, adventureID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, COALESCE(NULLIF(p.display_name, ''), 'Player'), c.created_at,
			c.brief_trait_physical, c.brief_trait_personality, c.brief_race, c.brief_class
		FROM characters c
		JOIN fellowships f ON f.id = c.fellowship_id
		LEFT JOIN profiles p ON p.id = c.player_id
		WHERE f.adventure_id = ?
		ORDER BY c.created_at, c.id
	`, adventureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roster := []models.RosterEntry{}
	for rows.Next() {
		var r models.RosterEntry
		if err := rows.Scan(&r.CharacterID, &r.CharacterName, &r.OwnerDisplayName, &r.CharacterCreatedAt,
			&r.TraitPhysical, &r.TraitPersonality, &r.Race, &r.Class); err != nil {
			return nil, err
		}
		roster = append(roster, r)
	}
	return roster, rows.Err()
}

// QuitAdventure releases every character userID has enrolled in the adventure
// and returns how many were released. Owners cannot quit their own adventure.
func (s *Store) QuitAdventure(ctx context.Context, adventureID, userID string) (int, error) {
	a, err := s.GetAdventure(ctx, adventureID)
	if err != nil {
		return 0, err
	}
	if a.OwnerPlayerID == userID {
		return 0, newError(ErrConflict, "owners can't leave their own adventure")
	}
	f, err := s.FellowshipByAdventure(ctx, adventureID)
	if err != nil {
		return 0, err
	}
	members, err := s.fellowshipMembers(ctx, f)
	if err != nil {
		return 0, err
	}

	var mine []models.Character
	for _, c := range members {
		if c.PlayerID == userID {
			mine = append(mine, c)
		}
	}
	if len(mine) == 0 {
		return 0, newError(ErrNotFound, "you are not enrolled in this adventure")
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE characters SET fellowship_id = NULL WHERE player_id = ? AND fellowship_id = ?",
		userID, f.ID,
	); err != nil {
		return 0, err
	}
	for _, c := range mine {
		s.publish("characters", realtime.OpUpdate, c.ID, characterChange(&c))
		s.publish("characters", realtime.OpUpdate, c.ID, map[string]string{"player_id": c.PlayerID})
	}
	return len(mine), nil
}
