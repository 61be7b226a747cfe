package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

// FellowshipThemeName is the name given to an automatically created fellowship theme.
const FellowshipThemeName = "Fellowship Theme"

const themeColumns = `id, name, character_id, fellowship_id, quest, improve, abandon, milestone,
	is_retired, is_scratched, might_level_id, type_id, created_at`

func scanTheme(row scanner) (*models.Theme, error) {
	var t models.Theme
	err := row.Scan(&t.ID, &t.Name, &t.CharacterID, &t.FellowshipID, &t.Quest,
		&t.Improve, &t.Abandon, &t.Milestone, &t.IsRetired, &t.IsScratched,
		&t.MightLevelID, &t.TypeID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func themeChange(t *models.Theme) map[string]string {
	return ownerCols(models.OwnerColumns{CharacterID: t.CharacterID, FellowshipID: t.FellowshipID})
}

// ListThemes returns the themes of a character or fellowship ordered by name.
func (s *Store) ListThemes(ctx context.Context, o models.Owner) ([]models.Theme, error) {
	var column string
	switch o.Kind {
	case models.OwnerCharacter:
		column = "character_id"
	case models.OwnerFellowship:
		column = "fellowship_id"
	default:
		return nil, newError(ErrInvalid, "%s", models.ErrInvalidOwner.Error())
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+themeColumns+" FROM themes WHERE "+column+" = ? ORDER BY name COLLATE NOCASE, created_at, id",
		o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Theme
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// GetTheme returns a theme by id.
func (s *Store) GetTheme(ctx context.Context, id string) (*models.Theme, error) {
	t, err := scanTheme(s.db.QueryRowContext(ctx, "SELECT "+themeColumns+" FROM themes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("theme")
	}
	return t, err
}

// FellowshipTheme returns the fellowship's theme, or ErrNotFound.
func (s *Store) FellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	t, err := scanTheme(s.db.QueryRowContext(ctx,
		"SELECT "+themeColumns+" FROM themes WHERE fellowship_id = ?", fellowshipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("theme")
	}
	return t, err
}

// CreateTheme inserts a theme, holding a character to MaxCharacterThemes and a
// fellowship to MaxFellowshipThemes.
func (s *Store) CreateTheme(ctx context.Context, req models.ThemeCreate) (*models.Theme, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(ErrInvalid, "%s", err.Error())
	}
	cols := req.Owner.Columns()
	t := &models.Theme{
		ID:           newID(req.ID),
		Name:         strings.TrimSpace(req.Name),
		CharacterID:  cols.CharacterID,
		FellowshipID: cols.FellowshipID,
		MightLevelID: &req.MightLevelID,
		TypeID:       &req.TypeID,
		CreatedAt:    s.now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	var count int
	if req.Owner.Kind == models.OwnerCharacter {
		err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM themes WHERE character_id = ?", req.Owner.ID).Scan(&count)
		if err == nil && count >= models.MaxCharacterThemes {
			return nil, newError(ErrLimitReached, "%s", models.ErrThemeLimit.Error())
		}
	} else {
		err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM themes WHERE fellowship_id = ?", req.Owner.ID).Scan(&count)
		if err == nil && count >= models.MaxFellowshipThemes {
			return nil, newError(ErrLimitReached, "a fellowship has only one theme")
		}
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO themes (id, name, character_id, fellowship_id, might_level_id, type_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, t.CharacterID, t.FellowshipID, t.MightLevelID, t.TypeID, t.CreatedAt)
	if err != nil {
		return nil, classify("theme", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.publish("themes", realtime.OpInsert, t.ID, themeChange(t))
	return t, nil
}

// EnsureFellowshipTheme returns the fellowship's theme, creating it with the
// "Fellowship" type and "Origin" might when it has none. Concurrent callers all
// get the same row.
func (s *Store) EnsureFellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	if t, err := s.FellowshipTheme(ctx, fellowshipID); !errors.Is(err, ErrNotFound) {
		return t, err
	}

	typeDef, err := s.DefByName(ctx, models.DefThemeTypes, models.ThemeTypeFellow)
	if err != nil {
		return nil, newError(ErrInvalid, "missing theme type %q", models.ThemeTypeFellow)
	}
	might, err := s.DefByName(ctx, models.DefMightLevels, models.MightOrigin)
	if err != nil {
		return nil, newError(ErrInvalid, "missing might level %q", models.MightOrigin)
	}

	id := newID("")
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (id, name, fellowship_id, might_level_id, type_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fellowship_id) DO NOTHING
	`, id, FellowshipThemeName, fellowshipID, might.ID, typeDef.ID, s.now())
	if err != nil {
		return nil, classify("theme", err)
	}

	t, err := s.FellowshipTheme(ctx, fellowshipID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish("themes", realtime.OpInsert, t.ID, themeChange(t))
	}
	return t, nil
}

// UpdateTheme patches a theme.
func (s *Store) UpdateTheme(ctx context.Context, id string, req models.ThemeUpdate) (*models.Theme, error) {
	var p patch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, newError(ErrInvalid, "%s", models.ErrNameRequired.Error())
		}
		p.set("name", name)
	}
	if req.Quest.Set {
		p.set("quest", req.Quest.Value)
	}
	for _, c := range []struct {
		col string
		v   *int
	}{
		{"improve", req.Improve},
		{"abandon", req.Abandon},
		{"milestone", req.Milestone},
	} {
		if c.v == nil {
			continue
		}
		if *c.v < 0 || *c.v > models.CounterMax {
			return nil, newError(ErrInvalid, "%s must be between 0 and %d", c.col, models.CounterMax)
		}
		p.set(c.col, *c.v)
	}
	if req.IsRetired != nil {
		p.set("is_retired", *req.IsRetired)
	}
	if req.IsScratched != nil {
		p.set("is_scratched", *req.IsScratched)
	}
	if req.MightLevelID.Set {
		p.set("might_level_id", req.MightLevelID.Value)
	}
	if req.TypeID.Set {
		p.set("type_id", req.TypeID.Value)
	}

	if err := p.exec(ctx, s.db, "themes", id); err != nil {
		return nil, err
	}
	t, err := s.GetTheme(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publish("themes", realtime.OpUpdate, t.ID, themeChange(t))
	}
	return t, nil
}

// DeleteTheme deletes a theme and its tags.
func (s *Store) DeleteTheme(ctx context.Context, id string) error {
	t, err := s.GetTheme(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM themes WHERE id = ?", id); err != nil {
		return err
	}
	s.publish("themes", realtime.OpDelete, id, themeChange(t))
	return nil
}
