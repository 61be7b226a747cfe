package sheet

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meur/mistbook/internal/editor"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
)

// ThemeView bundles the editors of one theme: the card and its power and
// weakness tag lists.
type ThemeView struct {
	Card     *editor.ThemeCard
	Power    *editor.TagList
	Weakness *editor.TagList
}

func newThemeView(d editor.Deps, t models.Theme) *ThemeView {
	return &ThemeView{
		Card:     editor.NewThemeCard(d, t),
		Power:    editor.NewThemeTags(d, t.ID, models.TagPower),
		Weakness: editor.NewThemeTags(d, t.ID, models.TagWeakness),
	}
}

func (v *ThemeView) load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.Power.Load(ctx) })
	g.Go(func() error { return v.Weakness.Load(ctx) })
	return g.Wait()
}

func themeID(t models.Theme) string { return t.ID }

func quintID(q models.Quintessence) string { return q.QuintessenceID }

// Sheet is the character detail view. It owns the character cell and the
// editors hanging off it, the tab navigator, and the enrollment state.
type Sheet struct {
	editor.Deps
	characterID string

	Character *editor.CharacterCell
	Bio       *editor.Bio
	Promise   *editor.Promise
	Backpack  *editor.TagList
	Statuses  *editor.Statuses
	Nav       *Navigator

	mu       sync.Mutex
	loaded   bool
	loadErr  error
	themes   []models.Theme
	views    map[string]*ThemeView
	quints   []models.Quintessence
	mights   []models.Def
	types    []models.Def
	qdefs    []models.Def
	joined   *models.JoinedAdventure
	joinCode string
	joining  bool
	leaving  bool
}

// New builds the sheet of characterID. The active tab starts from frag.
func New(d editor.Deps, characterID string, frag Fragment) *Sheet {
	cell := editor.NewCharacterCell(d, models.Character{ID: characterID})
	s := &Sheet{
		Deps:        d,
		characterID: characterID,
		Character:   cell,
		Bio:         editor.NewBio(cell),
		Promise:     editor.NewPromise(cell),
		Backpack:    editor.NewBackpack(d, characterID),
		Statuses:    editor.NewStatuses(d, models.CharacterOwner(characterID)),
		views:       make(map[string]*ThemeView),
	}
	s.Nav = NewNavigator(frag, false, d.OnChange)
	return s
}

// Close releases the fragment subscription.
func (s *Sheet) Close() { s.Nav.Close() }

// Load reads the character and everything the sheet shows. A missing or
// unreadable character fails the whole load; the error is kept for Err.
func (s *Sheet) Load(ctx context.Context) error {
	err := s.load(ctx)
	s.mu.Lock()
	s.loadErr = err
	if err == nil {
		s.loaded = true
	}
	s.mu.Unlock()
	s.Changed()
	return err
}

func (s *Sheet) load(ctx context.Context) error {
	c, err := s.Backend.Character(ctx, s.characterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	s.Character.Replace(*c)

	var (
		themes []models.Theme
		quints []models.Quintessence
		mights []models.Def
		types  []models.Def
		qdefs  []models.Def
		joined *models.JoinedAdventure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		themes, err = s.Backend.Themes(gctx, models.CharacterOwner(s.characterID))
		return err
	})
	g.Go(func() error { return s.Backpack.Load(gctx) })
	g.Go(func() error { return s.Statuses.Load(gctx) })
	g.Go(func() (err error) {
		quints, err = s.Backend.Quintessences(gctx, s.characterID)
		return err
	})
	g.Go(func() (err error) {
		mights, err = s.Backend.Defs(gctx, models.DefMightLevels)
		return err
	})
	g.Go(func() (err error) {
		types, err = s.Backend.Defs(gctx, models.DefThemeTypes)
		return err
	})
	g.Go(func() (err error) {
		qdefs, err = s.Backend.Defs(gctx, models.DefQuintessences)
		return err
	})
	if c.Enrolled() {
		g.Go(func() error {
			joined = s.hydrate(gctx, *c.FellowshipID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	s.themes = themes
	s.quints = quints
	s.mights = mights
	s.types = types
	s.qdefs = qdefs
	s.setJoined(joined)
	views, refresh := s.syncViews()
	s.mu.Unlock()
	refresh()

	if err := loadViews(ctx, views); err != nil {
		return err
	}
	s.syncNav()
	return nil
}

func loadViews(ctx context.Context, views []*ThemeView) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, v := range views {
		g.Go(func() error { return v.load(ctx) })
	}
	return g.Wait()
}

// hydrate resolves the fellowship and its adventure for display. A failed
// lookup is reported and leaves the sheet unenrolled-looking rather than
// failing the load.
func (s *Sheet) hydrate(ctx context.Context, fellowshipID string) *models.JoinedAdventure {
	f, err := s.Backend.Fellowship(ctx, fellowshipID)
	if err != nil {
		s.Notifier().Notify(remote.Failure("Could not load adventure", err))
		return nil
	}
	ja := &models.JoinedAdventure{FellowshipID: f.ID, FellowshipName: f.DisplayName()}
	if f.AdventureID == "" {
		return ja
	}
	a, err := s.Backend.Adventure(ctx, f.AdventureID)
	if err != nil {
		if !remote.IsNotFound(err) {
			s.Notifier().Notify(remote.Failure("Could not load adventure", err))
		}
		return ja
	}
	ja.ID = a.ID
	ja.Name = a.Name
	ja.SubscribeCode = a.SubscribeCode
	return ja
}

// setJoined stores ja and fills the join-code field from it. Callers hold mu.
func (s *Sheet) setJoined(ja *models.JoinedAdventure) {
	s.joined = ja
	if ja != nil {
		s.joinCode = strings.ToUpper(ja.SubscribeCode)
	}
}

// syncViews creates editors for new themes and drops those of removed ones.
// It returns the views that still need their first load and a func that
// refreshes the cards of kept views; run it after releasing mu. Callers hold mu.
func (s *Sheet) syncViews() (fresh []*ThemeView, refresh func()) {
	var kept []func()
	keep := make(map[string]bool, len(s.themes))
	for _, t := range s.themes {
		keep[t.ID] = true
		if v, ok := s.views[t.ID]; ok {
			kept = append(kept, func() { v.Card.Replace(t) })
			continue
		}
		v := newThemeView(s.Deps, t)
		s.views[t.ID] = v
		fresh = append(fresh, v)
	}
	for id := range s.views {
		if !keep[id] {
			delete(s.views, id)
		}
	}
	return fresh, func() {
		for _, fn := range kept {
			fn()
		}
	}
}

// syncNav pushes the slot assignment and enrollment to the navigator.
func (s *Sheet) syncNav() {
	s.mu.Lock()
	slots := AssignSlots(s.themes)
	s.mu.Unlock()
	s.Nav.SetSlots(slots)
	s.Nav.SetEnrolled(s.Character.Get().Enrolled())
}

func (s *Sheet) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Err returns the last load error.
func (s *Sheet) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Themes returns the character's themes in slot order.
func (s *Sheet) Themes() []models.Theme {
	s.mu.Lock()
	out := slices.Clone(s.themes)
	s.mu.Unlock()
	models.SortThemes(out)
	return out
}

// Theme returns the editors of theme id, or nil.
func (s *Sheet) Theme(id string) *ThemeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[id]
}

// ActiveTheme returns the editors of the theme in the active slot, or nil.
func (s *Sheet) ActiveTheme() *ThemeView {
	t := s.Nav.ActiveTheme()
	if t == nil {
		return nil
	}
	return s.Theme(t.ID)
}

// MightLevels returns the might definitions from lowest to highest.
func (s *Sheet) MightLevels() []models.Def {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.OrderedMightLevels(s.mights)
}

// ThemeTypes returns the theme type definitions.
func (s *Sheet) ThemeTypes() []models.Def {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.types)
}

// NewThemeForm returns a creation form with the default type and might.
func (s *Sheet) NewThemeForm() editor.ThemeForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return editor.NewThemeForm(s.types, s.mights)
}

// CreateTheme adds a theme from form for the creation form open on slot. The
// row appears at once; when the write succeeds the form closes and the active
// tab moves to slot's tab. Slot contents still follow name order.
func (s *Sheet) CreateTheme(ctx context.Context, slot int, form editor.ThemeForm) error {
	if ThemeTab(slot) == "" {
		return fmt.Errorf("theme slot %d: %w", slot, ErrUnknownTab)
	}
	req := models.ThemeCreate{
		ID:           uuid.NewString(),
		Owner:        models.CharacterOwner(s.characterID),
		Name:         strings.TrimSpace(form.Name),
		TypeID:       form.TypeID,
		MightLevelID: form.MightLevelID,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	cid := s.characterID
	row := models.Theme{
		ID:           req.ID,
		Name:         req.Name,
		CharacterID:  &cid,
		TypeID:       &req.TypeID,
		MightLevelID: &req.MightLevelID,
	}

	var view *ThemeView
	err := optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Lock:     &s.mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply: func() error {
			if len(s.themes) >= models.MaxCharacterThemes {
				return models.ErrThemeLimit
			}
			s.themes = append(s.themes, row)
			s.syncViews()
			view = s.views[row.ID]
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.Backend.CreateTheme(ctx, req)
			return err
		},
		Restore: func(struct{}) {
			s.themes = optimistic.Remove(s.themes, row.ID, themeID)
			s.syncViews()
		},
		Title:   "Could not add theme",
		Notify:  s.Notifier(),
		Changed: s.syncNav,
	})
	if err != nil {
		return err
	}
	if err := view.load(ctx); err != nil {
		return err
	}
	s.Nav.ThemeCreated(slot)
	s.Info("Theme added")
	return nil
}

// removedTheme is what DeleteTheme puts back when the delete fails.
type removedTheme struct {
	row  *models.Theme
	view *ThemeView
}

// DeleteTheme removes theme id. The active tab does not move.
func (s *Sheet) DeleteTheme(ctx context.Context, id string) error {
	return optimistic.Run(ctx, optimistic.Mutation[removedTheme]{
		Lock: &s.mu,
		Snapshot: func() removedTheme {
			return removedTheme{row: optimistic.Copy(s.themes, id, themeID), view: s.views[id]}
		},
		Apply: func() error {
			if optimistic.Find(s.themes, id, themeID) == nil {
				return models.ErrNotLoaded
			}
			s.themes = optimistic.Remove(s.themes, id, themeID)
			s.syncViews()
			return nil
		},
		Remote: func(ctx context.Context) error { return s.Backend.DeleteTheme(ctx, id) },
		Restore: func(prev removedTheme) {
			s.themes = optimistic.Reinsert(s.themes, prev.row, themeID)
			if prev.view != nil {
				s.views[id] = prev.view
			}
			s.syncViews()
		},
		Title:   "Could not delete theme",
		Notify:  s.Notifier(),
		Changed: s.syncNav,
	})
}

// ReloadThemes re-reads the theme list. A failure is kept for Err.
func (s *Sheet) ReloadThemes(ctx context.Context) error {
	err := s.reloadThemes(ctx)
	s.noteReload(err)
	return err
}

func (s *Sheet) reloadThemes(ctx context.Context) error {
	themes, err := s.Backend.Themes(ctx, models.CharacterOwner(s.characterID))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.themes = themes
	fresh, refresh := s.syncViews()
	s.mu.Unlock()
	refresh()
	err = loadViews(ctx, fresh)
	s.syncNav()
	return err
}

// ReloadCharacter re-reads the character row. A failure is kept for Err.
func (s *Sheet) ReloadCharacter(ctx context.Context) error {
	c, err := s.Backend.Character(ctx, s.characterID)
	s.noteReload(err)
	if err != nil {
		return err
	}
	s.Character.Replace(*c)
	s.syncNav()
	return nil
}

// noteReload records the outcome of a reload. Success clears an earlier
// reload error but never one from a sheet that has not loaded.
func (s *Sheet) noteReload(err error) {
	s.mu.Lock()
	changed := false
	switch {
	case err != nil:
		s.loadErr, changed = err, true
	case s.loaded && s.loadErr != nil:
		s.loadErr, changed = nil, true
	}
	s.mu.Unlock()
	if changed {
		s.Changed()
	}
}

// Watch keeps the sheet current with the change feed. The returned func
// closes every subscription.
func (s *Sheet) Watch(ctx context.Context) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}
	subs := []func() (func(), error){
		func() (func(), error) {
			return s.Deps.WatchTable(ctx, "characters", realtime.Eq("id", s.characterID), s.ReloadCharacter)
		},
		func() (func(), error) {
			return s.Deps.WatchTable(ctx, "themes", realtime.Eq("character_id", s.characterID), s.ReloadThemes)
		},
		func() (func(), error) { return s.Backpack.Watch(ctx) },
		func() (func(), error) { return s.Statuses.Watch(ctx) },
	}
	for _, sub := range subs {
		stop, err := sub()
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}

// Rename gives the character a new, non-empty name.
func (s *Sheet) Rename(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrNameRequired
	}
	if err := s.Character.Patch(ctx, "Could not rename character", models.CharacterUpdate{Name: &name}); err != nil {
		return err
	}
	s.Info("Character updated")
	return nil
}

// Delete removes the character. The sheet is unusable afterwards.
func (s *Sheet) Delete(ctx context.Context) error {
	if err := s.Backend.DeleteCharacter(ctx, s.characterID); err != nil {
		s.Notifier().Notify(remote.Failure("Could not delete character", err))
		return err
	}
	s.Info("Character deleted")
	return nil
}

// Quintessences returns the character's quintessences.
func (s *Sheet) Quintessences() []models.Quintessence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.quints)
}

// QuintessenceDefs returns every quintessence a character can hold.
func (s *Sheet) QuintessenceDefs() []models.Def {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.qdefs)
}

// ToggleQuintessence grants the quintessence def if the character lacks it
// and revokes it otherwise.
func (s *Sheet) ToggleQuintessence(ctx context.Context, def models.Def) error {
	var held bool
	return optimistic.Run(ctx, optimistic.Mutation[*models.Quintessence]{
		Lock:     &s.mu,
		Snapshot: func() *models.Quintessence { return optimistic.Copy(s.quints, def.ID, quintID) },
		Apply: func() error {
			held = optimistic.Find(s.quints, def.ID, quintID) != nil
			if held {
				s.quints = optimistic.Remove(s.quints, def.ID, quintID)
			} else {
				s.quints = append(s.quints, models.Quintessence{QuintessenceID: def.ID, Name: def.Name})
			}
			return nil
		},
		Remote: func(ctx context.Context) error {
			if held {
				return s.Backend.RemoveQuintessence(ctx, s.characterID, def.ID)
			}
			return s.Backend.AddQuintessence(ctx, s.characterID, def.ID)
		},
		Restore: func(prev *models.Quintessence) {
			if held {
				s.quints = optimistic.Reinsert(s.quints, prev, quintID)
			} else {
				s.quints = optimistic.Remove(s.quints, def.ID, quintID)
			}
		},
		Title:   "Could not update quintessences",
		Notify:  s.Notifier(),
		Changed: s.Changed,
	})
}
