package lists

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meur/mistbook/internal/editor"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
)

var (
	// ErrOwnerQuit is returned when the owner tries to quit their own adventure.
	ErrOwnerQuit = errors.New("owners can't leave their own adventure")
	// ErrMissingDefs means the definitions a fellowship theme needs are absent.
	ErrMissingDefs = fmt.Errorf("cannot create fellowship theme: missing type %q or might %q",
		models.ThemeTypeFellow, models.MightOrigin)
)

// FellowshipTheme bundles the editors of an adventure's shared theme.
type FellowshipTheme struct {
	Card     *editor.ThemeCard
	Power    *editor.TagList
	Weakness *editor.TagList
}

// Adventure is the single adventure view: its row, roster, statuses and the
// fellowship theme.
type Adventure struct {
	editor.Deps
	id string

	// Statuses are the adventure-wide statuses.
	Statuses *editor.Statuses

	mu         sync.Mutex
	userID     string
	adv        *models.Adventure
	roster     []models.RosterEntry
	loadErr    error
	rosterErr  error
	fellowship *models.Fellowship
	canEdit    bool
	types      []models.Def
	mights     []models.Def
	theme      *FellowshipTheme
	themeErr   error
	quitting   bool
}

func NewAdventure(d editor.Deps, id string) *Adventure {
	return &Adventure{
		Deps:     d,
		id:       id,
		Statuses: editor.NewStatuses(d, models.AdventureOwner(id)),
	}
}

// Load reads the adventure and its roster. A roster failure is kept apart so
// the adventure itself still shows.
func (a *Adventure) Load(ctx context.Context) error {
	err := a.load(ctx)
	a.mu.Lock()
	a.loadErr = err
	a.mu.Unlock()
	a.Changed()
	return err
}

func (a *Adventure) load(ctx context.Context) error {
	u, err := a.Backend.CurrentUser(ctx)
	if err != nil {
		return err
	}
	adv, err := a.Backend.Adventure(ctx, a.id)
	if err != nil {
		return err
	}
	roster, rosterErr := a.Backend.AdventureRoster(ctx, a.id)

	a.mu.Lock()
	a.userID = u.ID
	a.adv = adv
	a.rosterErr = rosterErr
	if rosterErr == nil {
		a.roster = roster
	}
	a.mu.Unlock()

	if err := a.Statuses.Load(ctx); err != nil && !remote.IsForbidden(err) {
		return err
	}
	return nil
}

// Get returns the adventure row, or nil before a successful load.
func (a *Adventure) Get() *models.Adventure {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adv == nil {
		return nil
	}
	cp := *a.adv
	return &cp
}

func (a *Adventure) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loadErr
}

// Roster returns the enrolled characters and the last roster error.
func (a *Adventure) Roster() ([]models.RosterEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.roster), a.rosterErr
}

// IsOwner reports whether the signed-in player owns the adventure.
func (a *Adventure) IsOwner() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adv != nil && a.adv.OwnerPlayerID == a.userID
}

// CanEdit reports whether the player may edit the fellowship theme.
func (a *Adventure) CanEdit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.canEdit
}

// Theme returns the fellowship theme editors, or nil when there is none.
func (a *Adventure) Theme() *FellowshipTheme {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.theme
}

// ThemeErr returns the last fellowship theme error.
func (a *Adventure) ThemeErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.themeErr
}

// ThemeTypes and MightLevels feed the fellowship theme's selectors.
func (a *Adventure) ThemeTypes() []models.Def {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.types)
}

func (a *Adventure) MightLevels() []models.Def {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.OrderedMightLevels(a.mights)
}

// LoadFellowshipTheme finds the fellowship, fetches the definitions and the
// edit permission, and reads the shared theme. When there is no theme yet and
// the player may edit, one is created; the server returns the existing row if
// another player got there first.
func (a *Adventure) LoadFellowshipTheme(ctx context.Context) error {
	theme, err := a.loadFellowshipTheme(ctx)
	a.mu.Lock()
	a.themeErr = err
	if err == nil {
		a.theme = theme
	}
	a.mu.Unlock()
	a.Changed()
	return err
}

func (a *Adventure) loadFellowshipTheme(ctx context.Context) (*FellowshipTheme, error) {
	f, err := a.Backend.AdventureFellowship(ctx, a.id)
	if remote.IsNotFound(err) {
		a.mu.Lock()
		a.fellowship, a.canEdit = nil, false
		a.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var (
		types, mights []models.Def
		canEdit       bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		types, err = a.Backend.Defs(gctx, models.DefThemeTypes)
		return err
	})
	g.Go(func() (err error) {
		mights, err = a.Backend.Defs(gctx, models.DefMightLevels)
		return err
	})
	g.Go(func() (err error) {
		canEdit, err = a.Backend.CanEditFellowship(gctx, f.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.fellowship = f
	a.types = types
	a.mights = mights
	a.canEdit = canEdit
	current := a.theme
	a.mu.Unlock()

	t, err := a.Backend.FellowshipTheme(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		if !canEdit {
			return nil, nil
		}
		if err := a.requireDefs(ctx, types, mights); err != nil {
			return nil, err
		}
		if t, err = a.Backend.EnsureFellowshipTheme(ctx, f.ID); err != nil {
			return nil, fmt.Errorf("create fellowship theme: %w", err)
		}
	}

	if current != nil && current.Card.Theme().ID == t.ID {
		current.Card.Replace(*t)
		return current, nil
	}
	ft := &FellowshipTheme{
		Card:     editor.NewThemeCard(a.Deps, *t),
		Power:    editor.NewThemeTags(a.Deps, t.ID, models.TagPower),
		Weakness: editor.NewThemeTags(a.Deps, t.ID, models.TagWeakness),
	}
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return ft.Power.Load(gctx) })
	g.Go(func() error { return ft.Weakness.Load(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ft, nil
}

// requireDefs checks the Fellowship type and Origin might exist, falling back
// to lookups by name when the fetched lists lack them.
func (a *Adventure) requireDefs(ctx context.Context, types, mights []models.Def) error {
	lookup := func(defs []models.Def, kind models.DefKind, name string) error {
		if _, ok := models.FindDef(defs, name); ok {
			return nil
		}
		_, err := a.Backend.DefByName(ctx, kind, name)
		if remote.IsNotFound(err) {
			return ErrMissingDefs
		}
		return err
	}
	if err := lookup(types, models.DefThemeTypes, models.ThemeTypeFellow); err != nil {
		return err
	}
	return lookup(mights, models.DefMightLevels, models.MightOrigin)
}

// Quitting reports whether a quit is in flight.
func (a *Adventure) Quitting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quitting
}

// Quit takes every character of the player out of the adventure and returns
// how many were released. Owners are refused without a remote call.
func (a *Adventure) Quit(ctx context.Context) (int, error) {
	if a.IsOwner() {
		return 0, ErrOwnerQuit
	}
	a.mu.Lock()
	a.quitting = true
	a.mu.Unlock()
	a.Changed()

	n, err := a.Backend.QuitAdventure(ctx, a.id)

	a.mu.Lock()
	a.quitting = false
	a.mu.Unlock()
	a.Changed()
	if err != nil {
		a.Notifier().Notify(remote.Failure("Could not leave adventure", err))
		return 0, err
	}
	a.Info("You have left this Adventure.")
	return n, nil
}

// Watch reloads the view on changes to the adventure, its fellowship and any
// character, since roster membership lives on the character rows.
func (a *Adventure) Watch(ctx context.Context) (func(), error) {
	both := func(ctx context.Context) error {
		err := a.Load(ctx)
		return errors.Join(err, a.LoadFellowshipTheme(ctx))
	}
	subs := []struct {
		table  string
		filter realtime.Filter
		reload func(context.Context) error
	}{
		{"adventures", realtime.Eq("id", a.id), both},
		{"fellowships", realtime.Eq("adventure_id", a.id), a.LoadFellowshipTheme},
		{"characters", realtime.Filter{}, both},
	}
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}
	for _, s := range subs {
		stop, err := a.Deps.WatchTable(ctx, s.table, s.filter, s.reload)
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stop)
	}
	stop, err := a.Statuses.Watch(ctx)
	if err != nil {
		stopAll()
		return nil, err
	}
	stops = append(stops, stop)
	return stopAll, nil
}

// Fellowship returns the adventure's fellowship, or nil before it is loaded.
func (a *Adventure) Fellowship() *models.Fellowship {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fellowship == nil {
		return nil
	}
	f := *a.fellowship
	return &f
}
