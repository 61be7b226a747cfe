package lists

import (
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

func adventureID(a models.Adventure) string { return a.ID }

// Adventures lists the adventures the player owns or has a character in.
type Adventures struct {
	editor.Deps

	mu      sync.Mutex
	rows    []models.Adventure
	loaded  bool
	loadErr error
	editing string

	// Name is the rename draft of the adventure being edited.
	Name optimistic.Draft[string]
}

func NewAdventures(d editor.Deps) *Adventures {
	return &Adventures{Deps: d}
}

func (l *Adventures) Load(ctx context.Context) error {
	rows, err := l.Backend.Adventures(ctx)
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

// Watch reloads on any adventure change.
func (l *Adventures) Watch(ctx context.Context) (func(), error) {
	return l.Deps.WatchTable(ctx, "adventures", realtime.Filter{}, l.Load)
}

func (l *Adventures) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadErr
}

// List returns the adventures newest first.
func (l *Adventures) List() []models.Adventure {
	l.mu.Lock()
	out := slices.Clone(l.rows)
	l.mu.Unlock()
	newestFirst(out, func(a models.Adventure) time.Time { return a.CreatedAt }, adventureID)
	return out
}

// Create starts an adventure owned by the player. The server assigns the
// join code, so the placeholder row has none until the write returns.
func (l *Adventures) Create(ctx context.Context, name string) (*models.Adventure, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.ErrNameRequired
	}
	if _, err := l.Backend.Profile(ctx); err != nil {
		return nil, err
	}
	req := models.AdventureCreate{ID: uuid.NewString(), Name: name}
	row := models.Adventure{ID: req.ID, Name: name, CreatedAt: time.Now().UTC()}

	var created *models.Adventure
	err := optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Lock:     &l.mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply: func() error {
			l.rows = optimistic.Upsert(l.rows, row, adventureID)
			return nil
		},
		Remote: func(ctx context.Context) error {
			var err error
			if created, err = l.Backend.CreateAdventure(ctx, req); err == nil {
				l.mu.Lock()
				l.rows = optimistic.Upsert(l.rows, *created, adventureID)
				l.mu.Unlock()
			}
			return err
		},
		Restore: func(struct{}) { l.rows = optimistic.Remove(l.rows, req.ID, adventureID) },
		Title:   "Could not create adventure",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
	if err != nil {
		return nil, err
	}
	l.Changed()
	return created, nil
}

// BeginRename opens the name draft for adventure id.
func (l *Adventures) BeginRename(id string) error {
	l.mu.Lock()
	row := optimistic.Find(l.rows, id, adventureID)
	if row == nil {
		l.mu.Unlock()
		return models.ErrNotLoaded
	}
	l.editing = id
	name := row.Name
	l.mu.Unlock()
	l.Name.Begin(name)
	return nil
}

// Editing returns the id of the adventure being renamed, or "".
func (l *Adventures) Editing() string {
	if !l.Name.Editing() {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.editing
}

// CancelRename discards the draft.
func (l *Adventures) CancelRename() { l.Name.Cancel() }

// SaveRename writes the draft. The draft stays open if the write fails.
func (l *Adventures) SaveRename(ctx context.Context) error {
	return l.Name.Save(ctx, func(ctx context.Context, v string) error {
		name := strings.TrimSpace(v)
		if name == "" {
			return models.ErrNameRequired
		}
		l.mu.Lock()
		id := l.editing
		l.mu.Unlock()
		return l.rename(ctx, id, name)
	})
}

func (l *Adventures) rename(ctx context.Context, id, name string) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Adventure]{
		Lock:     &l.mu,
		Snapshot: func() *models.Adventure { return optimistic.Copy(l.rows, id, adventureID) },
		Apply: func() error {
			row := optimistic.Find(l.rows, id, adventureID)
			if row == nil {
				return models.ErrNotLoaded
			}
			row.Name = name
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := l.Backend.UpdateAdventure(ctx, id, models.AdventureUpdate{Name: &name})
			return err
		},
		Restore: func(prev *models.Adventure) { l.rows = optimistic.Revert(l.rows, prev, adventureID) },
		Title:   "Could not rename adventure",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}

// Delete removes adventure id from the list before the remote delete.
func (l *Adventures) Delete(ctx context.Context, id string) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Adventure]{
		Lock:     &l.mu,
		Snapshot: func() *models.Adventure { return optimistic.Copy(l.rows, id, adventureID) },
		Apply: func() error {
			l.rows = optimistic.Remove(l.rows, id, adventureID)
			return nil
		},
		Remote:  func(ctx context.Context) error { return l.Backend.DeleteAdventure(ctx, id) },
		Restore: func(prev *models.Adventure) { l.rows = optimistic.Reinsert(l.rows, prev, adventureID) },
		Title:   "Could not delete adventure",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}
