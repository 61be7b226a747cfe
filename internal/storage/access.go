package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meur/mistbook/internal/models"
)

// Authorize checks that userID may write rows owned by o. Characters and what
// hangs off them belong to their player; fellowships are shared by the adventure
// owner and every player with a character in them.
func (s *Store) Authorize(ctx context.Context, userID string, o models.Owner) error {
	switch o.Kind {
	case models.OwnerCharacter:
		return s.requireCharacterOwner(ctx, o.ID, userID)
	case models.OwnerTheme:
		var cols models.OwnerColumns
		err := s.db.QueryRowContext(ctx,
			"SELECT character_id, fellowship_id FROM themes WHERE id = ?", o.ID,
		).Scan(&cols.CharacterID, &cols.FellowshipID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("theme")
		}
		if err != nil {
			return err
		}
		parent, ok := models.OwnerFromColumns(cols)
		if !ok {
			return notFound("theme")
		}
		return s.Authorize(ctx, userID, parent)
	case models.OwnerFellowship:
		ok, err := s.CanEditFellowship(ctx, o.ID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrForbidden, "not a member of this fellowship")
		}
		return nil
	case models.OwnerAdventure:
		ok, err := s.isAdventureMember(ctx, o.ID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return newError(ErrForbidden, "not a member of this adventure")
		}
		return nil
	}
	return newError(ErrInvalid, "%s", models.ErrInvalidOwner.Error())
}

// CanEditFellowship reports whether userID owns the fellowship's adventure or has
// a character enrolled in it.
func (s *Store) CanEditFellowship(ctx context.Context, fellowshipID, userID string) (bool, error) {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `
		SELECT a.owner_player_id FROM fellowships f JOIN adventures a ON a.id = f.adventure_id
		WHERE f.id = ?
	`, fellowshipID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("fellowship")
	}
	if err != nil {
		return false, err
	}
	if ownerID == userID {
		return true, nil
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM characters WHERE fellowship_id = ? AND player_id = ?",
		fellowshipID, userID,
	).Scan(&n)
	return n > 0, err
}

func (s *Store) isAdventureMember(ctx context.Context, adventureID, userID string) (bool, error) {
	var fellowshipID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM fellowships WHERE adventure_id = ?", adventureID,
	).Scan(&fellowshipID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFound("adventure")
	}
	if err != nil {
		return false, err
	}
	return s.CanEditFellowship(ctx, fellowshipID, userID)
}

func (s *Store) requireCharacterOwner(ctx context.Context, characterID, userID string) error {
	var playerID string
	err := s.db.QueryRowContext(ctx,
		"SELECT player_id FROM characters WHERE id = ?", characterID,
	).Scan(&playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("character")
	}
	if err != nil {
		return err
	}
	if playerID != userID {
		return newError(ErrForbidden, "character belongs to another player")
	}
	return nil
}

// RequireAdventureOwner fails with ErrForbidden unless userID owns the adventure.
func (s *Store) RequireAdventureOwner(ctx context.Context, adventureID, userID string) error {
	a, err := s.GetAdventure(ctx, adventureID)
	if err != nil {
		return err
	}
	if a.OwnerPlayerID != userID {
		return newError(ErrForbidden, "only the adventure owner can do that")
	}
	return nil
}

// RequireCharacterOwner fails with ErrForbidden unless userID plays the character.
func (s *Store) RequireCharacterOwner(ctx context.Context, characterID, userID string) error {
	return s.requireCharacterOwner(ctx, characterID, userID)
}

// CanRead checks that userID may read rows owned by o. Character data is private
// to its player; fellowship and adventure rows are visible to every player.
func (s *Store) CanRead(ctx context.Context, userID string, o models.Owner) error {
	switch o.Kind {
	case models.OwnerCharacter:
		return s.requireCharacterOwner(ctx, o.ID, userID)
	case models.OwnerTheme:
		t, err := s.GetTheme(ctx, o.ID)
		if err != nil {
			return err
		}
		return s.CanRead(ctx, userID, t.Owner())
	case models.OwnerFellowship, models.OwnerAdventure:
		return nil
	}
	return newError(ErrInvalid, "%s", models.ErrInvalidOwner.Error())
}
