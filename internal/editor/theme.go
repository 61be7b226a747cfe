package editor

import (
	"context"
	"strings"
	"sync"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
)

// ThemeCard edits one theme: its name, quest, type and might, the three
// progress tracks and the retired and scratched flags.
type ThemeCard struct {
	Deps

	mu     sync.Mutex
	theme  models.Theme
	saving int

	Name  optimistic.Draft[string]
	Quest optimistic.Draft[string]
}

// NewThemeCard edits t.
func NewThemeCard(d Deps, t models.Theme) *ThemeCard {
	return &ThemeCard{Deps: d, theme: t}
}

// Theme returns the cached row.
func (c *ThemeCard) Theme() models.Theme {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

// Saving reports whether a write is in flight.
func (c *ThemeCard) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving > 0
}

// Replace swaps in a freshly read row.
func (c *ThemeCard) Replace(t models.Theme) {
	c.mu.Lock()
	c.theme = t
	c.mu.Unlock()
	c.Changed()
}

// save applies a patch built from the current row. build runs under the lock
// and may reject the change before anything is sent.
func (c *ThemeCard) save(ctx context.Context, build func(models.Theme) (models.ThemeUpdate, error)) error {
	var (
		id    string
		patch models.ThemeUpdate
	)
	err := optimistic.Run(ctx, optimistic.Mutation[models.Theme]{
		Lock: &c.mu,
		Snapshot: func() models.Theme {
			id = c.theme.ID
			return c.theme
		},
		Apply: func() error {
			var err error
			if patch, err = build(c.theme); err != nil {
				return err
			}
			patch.Apply(&c.theme)
			c.saving++
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := c.Backend.UpdateTheme(ctx, id, patch)
			c.mu.Lock()
			c.saving--
			c.mu.Unlock()
			return err
		},
		Restore: func(t models.Theme) { c.theme = t },
		Title:   "Could not save theme",
		Notify:  c.Notifier(),
		Changed: c.Changed,
	})
	return err
}

// ClickCounter handles a click on box position (1..3) of track counter.
func (c *ThemeCard) ClickCounter(ctx context.Context, counter models.Counter, position int) error {
	return c.save(ctx, func(t models.Theme) (models.ThemeUpdate, error) {
		next, err := models.ClickCounter(t.Counter(counter), position)
		if err != nil {
			return models.ThemeUpdate{}, err
		}
		return models.CounterUpdate(counter, next), nil
	})
}

// ToggleRetired flips the retired flag.
func (c *ThemeCard) ToggleRetired(ctx context.Context) error {
	return c.save(ctx, func(t models.Theme) (models.ThemeUpdate, error) {
		v := !t.IsRetired
		return models.ThemeUpdate{IsRetired: &v}, nil
	})
}

// ToggleScratched flips the scratched flag.
func (c *ThemeCard) ToggleScratched(ctx context.Context) error {
	return c.save(ctx, func(t models.Theme) (models.ThemeUpdate, error) {
		v := !t.IsScratched
		return models.ThemeUpdate{IsScratched: &v}, nil
	})
}

// SetDefinitions changes the theme type and might level together.
func (c *ThemeCard) SetDefinitions(ctx context.Context, typeID, mightLevelID string) error {
	return c.save(ctx, func(models.Theme) (models.ThemeUpdate, error) {
		if typeID == "" || mightLevelID == "" {
			return models.ThemeUpdate{}, models.ErrDefsRequired
		}
		return models.ThemeUpdate{
			TypeID:       models.Some(typeID),
			MightLevelID: models.Some(mightLevelID),
		}, nil
	})
}

// BeginRename opens the name draft.
func (c *ThemeCard) BeginRename() {
	c.Name.Begin(c.Theme().Name)
}

// SaveName writes the name draft. An unchanged name closes the draft without
// a remote call.
func (c *ThemeCard) SaveName(ctx context.Context) error {
	return c.Name.Save(ctx, func(ctx context.Context, v string) error {
		name := strings.TrimSpace(v)
		if name == "" {
			return models.ErrNameRequired
		}
		if name == c.Theme().Name {
			return nil
		}
		return c.save(ctx, func(models.Theme) (models.ThemeUpdate, error) {
			return models.ThemeUpdate{Name: &name}, nil
		})
	})
}

// BeginQuest opens the quest draft.
func (c *ThemeCard) BeginQuest() {
	var q string
	if t := c.Theme(); t.Quest != nil {
		q = *t.Quest
	}
	c.Quest.Begin(q)
}

// SaveQuest writes the quest draft. A blank quest clears it.
func (c *ThemeCard) SaveQuest(ctx context.Context) error {
	return c.Quest.Save(ctx, func(ctx context.Context, v string) error {
		return c.save(ctx, func(models.Theme) (models.ThemeUpdate, error) {
			if q := strings.TrimSpace(v); q != "" {
				return models.ThemeUpdate{Quest: models.Some(q)}, nil
			}
			return models.ThemeUpdate{Quest: models.Null[string]()}, nil
		})
	})
}

// MightName returns the name of the theme's might level, or "".
func MightName(t models.Theme, mights []models.Def) string {
	if t.MightLevelID == nil {
		return ""
	}
	for _, d := range mights {
		if d.ID == *t.MightLevelID {
			return d.Name
		}
	}
	return ""
}

// ThemeForm is the inline theme creation form.
type ThemeForm struct {
	Name         string
	TypeID       string
	MightLevelID string
}

// NewThemeForm preselects the first type and the lowest might level.
func NewThemeForm(types, mights []models.Def) ThemeForm {
	var f ThemeForm
	if len(types) > 0 {
		f.TypeID = types[0].ID
	}
	if ordered := models.OrderedMightLevels(mights); len(ordered) > 0 {
		f.MightLevelID = ordered[0].ID
	}
	return f
}

// Ready reports whether the form can be submitted.
func (f ThemeForm) Ready() bool {
	return strings.TrimSpace(f.Name) != "" && f.TypeID != "" && f.MightLevelID != ""
}
