package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

const tagColumns = `id, name, type, is_scratched, is_negative, theme_id, character_id, fellowship_id, created_at`

func scanTag(row scanner) (*models.Tag, error) {
	var t models.Tag
	err := row.Scan(&t.ID, &t.Name, &t.Type, &t.IsScratched, &t.IsNegative,
		&t.ThemeID, &t.CharacterID, &t.FellowshipID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func tagChange(t *models.Tag) map[string]string {
	m := ownerCols(models.OwnerColumns{ThemeID: t.ThemeID, CharacterID: t.CharacterID, FellowshipID: t.FellowshipID})
	m["type"] = string(t.Type)
	return m
}

// ListTags returns the tags matched by q, ordered by name.
func (s *Store) ListTags(ctx context.Context, q models.TagQuery) ([]models.Tag, error) {
	if q.Empty() {
		return nil, newError(ErrInvalid, "tag query needs an owner")
	}

	var owners []string
	var args []interface{}
	if q.CharacterID != "" {
		owners = append(owners, "character_id = ?")
		args = append(args, q.CharacterID)
	}
	if q.FellowshipID != "" {
		owners = append(owners, "fellowship_id = ?")
		args = append(args, q.FellowshipID)
	}
	if len(q.ThemeIDs) > 0 {
		owners = append(owners, "theme_id IN ("+placeholders(len(q.ThemeIDs))+")")
		for _, id := range q.ThemeIDs {
			args = append(args, id)
		}
	}

	where := []string{"(" + strings.Join(owners, " OR ") + ")"}
	if len(q.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.WithoutTheme {
		where = append(where, "theme_id IS NULL")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tagColumns+" FROM tags WHERE "+strings.Join(where, " AND ")+" ORDER BY name COLLATE NOCASE, created_at, id",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GetTag returns a tag by id.
func (s *Store) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, "SELECT "+tagColumns+" FROM tags WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tag")
	}
	return t, err
}

// CreateTag inserts a tag, honouring a client-supplied id.
func (s *Store) CreateTag(ctx context.Context, req models.TagCreate) (*models.Tag, error) {
	if err := req.Validate(); err != nil {
		return nil, newError(ErrInvalid, "%s", err.Error())
	}
	t := req.Row()
	t.ID = newID(t.ID)
	t.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, type, is_negative, theme_id, character_id, fellowship_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Name, string(t.Type), t.IsNegative, t.ThemeID, t.CharacterID, t.FellowshipID, t.CreatedAt)
	if err != nil {
		return nil, classify("tag", err)
	}
	s.publish("tags", realtime.OpInsert, t.ID, tagChange(&t))
	return &t, nil
}

// UpdateTag patches a tag. Weakness tags cannot be scratched.
func (s *Store) UpdateTag(ctx context.Context, id string, req models.TagUpdate) (*models.Tag, error) {
	current, err := s.GetTag(ctx, id)
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
	if req.IsScratched != nil {
		if *req.IsScratched && !current.Type.Scratchable() {
			return nil, newError(ErrInvalid, "%s", models.ErrNotScratchable.Error())
		}
		p.set("is_scratched", *req.IsScratched)
	}
	if req.IsNegative != nil {
		p.set("is_negative", *req.IsNegative)
	}

	if err := p.exec(ctx, s.db, "tags", id); err != nil {
		return nil, err
	}
	t, err := s.GetTag(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.empty() {
		s.publish("tags", realtime.OpUpdate, t.ID, tagChange(t))
	}
	return t, nil
}

// DeleteTag deletes a tag.
func (s *Store) DeleteTag(ctx context.Context, id string) error {
	t, err := s.GetTag(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id); err != nil {
		return err
	}
	s.publish("tags", realtime.OpDelete, id, tagChange(t))
	return nil
}
