// Package lists holds the collection views: the player's characters, the
// adventures they own or play in, a single adventure with its roster and
// fellowship theme, and the landing page choice.
package lists

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meur/mistbook/internal/editor"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
	"github.com/meur/mistbook/internal/realtime"
)

func characterID(c models.Character) string { return c.ID }

// newestFirst orders rows by creation time, latest first, then by id.
func newestFirst[T any](rows []T, created func(T) time.Time, id func(T) string) {
	slices.SortStableFunc(rows, func(a, b T) int {
		return cmp.Or(created(b).Compare(created(a)), strings.Compare(id(b), id(a)))
	})
}

// Characters lists the signed-in player's characters.
type Characters struct {
	editor.Deps

	mu      sync.Mutex
	rows    []models.Character
	loaded  bool
	loadErr error
}

func NewCharacters(d editor.Deps) *Characters {
	return &Characters{Deps: d}
}

// Load reads every character. On failure the previous rows stay.
func (l *Characters) Load(ctx context.Context) error {
	rows, err := l.Backend.Characters(ctx, 0)
	l.mu.Lock()
	l.loadErr = err
	if err == nil {
		l.rows = rows
		l.loaded = true
	}
	l.mu.Unlock()
	l.Changed()
	return err
}

// Watch reloads on any character change.
func (l *Characters) Watch(ctx context.Context) (func(), error) {
	return l.Deps.WatchTable(ctx, "characters", realtime.Filter{}, l.Load)
}

func (l *Characters) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

func (l *Characters) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadErr
}

// List returns the characters newest first.
func (l *Characters) List() []models.Character {
	l.mu.Lock()
	out := slices.Clone(l.rows)
	l.mu.Unlock()
	newestFirst(out, func(c models.Character) time.Time { return c.CreatedAt }, characterID)
	return out
}

// Create adds a character named name and returns its id.
func (l *Characters) Create(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", models.ErrNameRequired
	}
	req := models.CharacterCreate{ID: uuid.NewString(), Name: name}
	row := models.Character{ID: req.ID, Name: name, CreatedAt: time.Now().UTC()}

	err := optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Lock:     &l.mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply: func() error {
			l.rows = optimistic.Upsert(l.rows, row, characterID)
			return nil
		},
		Remote: func(ctx context.Context) error {
			created, err := l.Backend.CreateCharacter(ctx, req)
			if err == nil {
				l.mu.Lock()
				l.rows = optimistic.Upsert(l.rows, *created, characterID)
				l.mu.Unlock()
			}
			return err
		},
		Restore: func(struct{}) { l.rows = optimistic.Remove(l.rows, req.ID, characterID) },
		Title:   "Could not create character",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
	if err != nil {
		return "", err
	}
	l.Changed()
	return req.ID, nil
}

// Rename gives character id a new, non-empty name.
func (l *Characters) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrNameRequired
	}
	u := models.CharacterUpdate{Name: &name}
	return optimistic.Run(ctx, optimistic.Mutation[*models.Character]{
		Lock:     &l.mu,
		Snapshot: func() *models.Character { return optimistic.Copy(l.rows, id, characterID) },
		Apply: func() error {
			row := optimistic.Find(l.rows, id, characterID)
			if row == nil {
				return models.ErrNotLoaded
			}
			u.Apply(row)
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := l.Backend.UpdateCharacter(ctx, id, u)
			return err
		},
		Restore: func(prev *models.Character) { l.rows = optimistic.Revert(l.rows, prev, characterID) },
		Title:   "Could not rename character",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}

// Delete removes character id from the list before the remote delete.
func (l *Characters) Delete(ctx context.Context, id string) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Character]{
		Lock:     &l.mu,
		Snapshot: func() *models.Character { return optimistic.Copy(l.rows, id, characterID) },
		Apply: func() error {
			l.rows = optimistic.Remove(l.rows, id, characterID)
			return nil
		},
		Remote:  func(ctx context.Context) error { return l.Backend.DeleteCharacter(ctx, id) },
		Restore: func(prev *models.Character) { l.rows = optimistic.Reinsert(l.rows, prev, characterID) },
		Title:   "Could not delete character",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}
