// Package editor holds the leaf view-models of the character sheet: theme
// cards, tag lists, statuses, the bio, the promise stepper and the profile.
//
// Every write is optimistic: the cached rows change first, the remote write
// follows, and a failure restores the cache and posts an error notice.
package editor

import (
	"context"
	"sync"
	"time"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
)

// Deps are shared by every editor.
type Deps struct {
	Backend remote.Backend
	Notify  remote.Notifier
	// OnChange runs after any change to an editor's state, without locks held.
	OnChange func()
}

// Notifier returns Notify, or a notifier that drops everything.
func (d Deps) Notifier() remote.Notifier {
	if d.Notify == nil {
		return remote.Discard
	}
	return d.Notify
}

// Changed runs OnChange when it is set.
func (d Deps) Changed() {
	if d.OnChange != nil {
		d.OnChange()
	}
}

// Info posts an info-level notice.
func (d Deps) Info(title string) {
	d.Notifier().Notify(remote.Notice{Level: remote.LevelInfo, Title: title})
}

// WatchTable re-runs reload whenever a matching change arrives. Reloads
// outlive ctx's cancellation but keep its values; a failed reload posts an
// error notice.
func (d Deps) WatchTable(ctx context.Context, table string, filter realtime.Filter, reload func(context.Context) error) (func(), error) {
	bg := context.WithoutCancel(ctx)
	return d.Backend.Subscribe(ctx, table, filter, func(realtime.Change) {
		if err := reload(bg); err != nil {
			d.Notifier().Notify(remote.Failure("Could not refresh "+table, err))
		}
	})
}

// CharacterCell is the cached character row shared by the sheet, the bio and
// the promise editors.
type CharacterCell struct {
	Deps

	mu sync.Mutex
	c  models.Character
}

// NewCharacterCell caches c.
func NewCharacterCell(d Deps, c models.Character) *CharacterCell {
	return &CharacterCell{Deps: d, c: c}
}

// Get returns the cached row.
func (cell *CharacterCell) Get() models.Character {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.c
}

// Replace swaps in a freshly read row.
func (cell *CharacterCell) Replace(c models.Character) {
	cell.mu.Lock()
	cell.c = c
	cell.mu.Unlock()
	cell.Changed()
}

// Patch applies u locally, writes it, and rolls back on failure.
func (cell *CharacterCell) Patch(ctx context.Context, title string, u models.CharacterUpdate) error {
	var id string
	return optimistic.Run(ctx, optimistic.Mutation[models.Character]{
		Lock: &cell.mu,
		Snapshot: func() models.Character {
			id = cell.c.ID
			return cell.c
		},
		Apply: func() error {
			u.Apply(&cell.c)
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := cell.Backend.UpdateCharacter(ctx, id, u)
			return err
		},
		Restore: func(c models.Character) { cell.c = c },
		Title:   title,
		Notify:  cell.Notifier(),
		Changed: cell.Changed,
	})
}

// placeholderTime stamps optimistic rows until the server's copy replaces them.
func placeholderTime() time.Time {
	return time.Now().UTC()
}
