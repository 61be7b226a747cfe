package editor

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
	"github.com/meur/mistbook/internal/realtime"
)

func tagID(t models.Tag) string { return t.ID }

// TagList edits the tags matching one query: a theme's power or weakness
// tags, or a character's backpack.
type TagList struct {
	Deps

	owner  models.Owner
	query  models.TagQuery
	filter realtime.Filter
	types  []models.TagType

	mu      sync.Mutex
	rows    []models.Tag
	loaded  bool
	loadErr error
}

// NewThemeTags lists the tags of type typ on a theme.
func NewThemeTags(d Deps, themeID string, typ models.TagType) *TagList {
	return &TagList{
		Deps:   d,
		owner:  models.ThemeOwner(themeID),
		query:  models.TagQuery{ThemeIDs: []string{themeID}, Types: []models.TagType{typ}},
		filter: realtime.Eq("theme_id", themeID),
		types:  []models.TagType{typ},
	}
}

// NewBackpack lists the story and single-use items a character carries
// outside any theme.
func NewBackpack(d Deps, characterID string) *TagList {
	types := []models.TagType{models.TagStory, models.TagSingleUse}
	return &TagList{
		Deps:  d,
		owner: models.CharacterOwner(characterID),
		query: models.TagQuery{
			CharacterID:  characterID,
			WithoutTheme: true,
			Types:        types,
		},
		filter: realtime.Eq("character_id", characterID),
		types:  types,
	}
}

// Load reads the list. A failure is kept for Err and the cached rows stay.
func (l *TagList) Load(ctx context.Context) error {
	rows, err := l.Backend.Tags(ctx, l.query)
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

// Watch reloads the list whenever a tag of its owner changes.
func (l *TagList) Watch(ctx context.Context) (func(), error) {
	return l.Deps.WatchTable(ctx, "tags", l.filter, l.Load)
}

// Loaded reports whether the first load has finished.
func (l *TagList) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Err returns the last load error.
func (l *TagList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadErr
}

// Tags returns the rows ordered by name.
func (l *TagList) Tags() []models.Tag {
	l.mu.Lock()
	out := slices.Clone(l.rows)
	l.mu.Unlock()
	compare := models.NameComparer()
	slices.SortStableFunc(out, func(a, b models.Tag) int {
		if c := compare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Add creates a tag of the list's first type.
func (l *TagList) Add(ctx context.Context, name string) error {
	return l.AddTyped(ctx, name, l.types[0])
}

// AddTyped creates a tag of typ, which must be one the list shows. The row
// appears at once under a client id and disappears again if the insert fails.
func (l *TagList) AddTyped(ctx context.Context, name string, typ models.TagType) error {
	if !slices.Contains(l.types, typ) {
		return models.ErrInvalidTagType
	}
	req := models.TagCreate{
		ID:    uuid.NewString(),
		Owner: l.owner,
		Name:  strings.TrimSpace(name),
		Type:  typ,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	row := req.Row()
	row.CreatedAt = placeholderTime()

	return optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Lock:     &l.mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply: func() error {
			l.rows = optimistic.Upsert(l.rows, row, tagID)
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := l.Backend.CreateTag(ctx, req)
			return err
		},
		Restore: func(struct{}) { l.rows = optimistic.Remove(l.rows, req.ID, tagID) },
		Title:   "Could not add tag",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}

// edit applies fn to the cached row id and sends patch.
func (l *TagList) edit(ctx context.Context, id, title string, patch func(models.Tag) (models.TagUpdate, error)) error {
	var u models.TagUpdate
	return optimistic.Run(ctx, optimistic.Mutation[*models.Tag]{
		Lock:     &l.mu,
		Snapshot: func() *models.Tag { return optimistic.Copy(l.rows, id, tagID) },
		Apply: func() error {
			row := optimistic.Find(l.rows, id, tagID)
			if row == nil {
				return models.ErrNotLoaded
			}
			var err error
			if u, err = patch(*row); err != nil {
				return err
			}
			u.Apply(row)
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := l.Backend.UpdateTag(ctx, id, u)
			return err
		},
		Restore: func(prev *models.Tag) { l.rows = optimistic.Revert(l.rows, prev, tagID) },
		Title:   title,
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}

// Rename gives tag id a new, non-empty name.
func (l *TagList) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrNameRequired
	}
	return l.edit(ctx, id, "Could not rename tag", func(models.Tag) (models.TagUpdate, error) {
		return models.TagUpdate{Name: &name}, nil
	})
}

// ToggleScratch burns or restores tag id. Weakness tags cannot be scratched.
func (l *TagList) ToggleScratch(ctx context.Context, id string) error {
	return l.edit(ctx, id, "Could not update tag", func(t models.Tag) (models.TagUpdate, error) {
		v := !t.IsScratched
		if v && !t.Type.Scratchable() {
			return models.TagUpdate{}, models.ErrNotScratchable
		}
		return models.TagUpdate{IsScratched: &v}, nil
	})
}

// Remove deletes tag id.
func (l *TagList) Remove(ctx context.Context, id string) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Tag]{
		Lock:     &l.mu,
		Snapshot: func() *models.Tag { return optimistic.Copy(l.rows, id, tagID) },
		Apply: func() error {
			l.rows = optimistic.Remove(l.rows, id, tagID)
			return nil
		},
		Remote:  func(ctx context.Context) error { return l.Backend.DeleteTag(ctx, id) },
		Restore: func(prev *models.Tag) { l.rows = optimistic.Reinsert(l.rows, prev, tagID) },
		Title:   "Could not delete tag",
		Notify:  l.Notifier(),
		Changed: l.Changed,
	})
}
