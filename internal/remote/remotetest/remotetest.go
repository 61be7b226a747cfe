// Package remotetest provides an in-memory remote.Backend for view-model tests.
//
// The fake mirrors the server's rules (theme caps, ownership, join codes) so
// view-models see the same failures they would in production. Writes do not
// publish changes on their own; tests call Emit to simulate the change feed.
package remotetest

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
)

var _ remote.Backend = (*Backend)(nil)

// Backend is an in-memory remote.Backend signed in as User.
type Backend struct {
	User models.User

	mu          sync.Mutex
	clock       time.Time
	profiles    map[string]models.Profile
	characters  map[string]models.Character
	themes      map[string]models.Theme
	tags        map[string]models.Tag
	statuses    map[string]models.Status
	adventures  map[string]models.Adventure
	fellowships map[string]models.Fellowship
	defs        map[models.DefKind][]models.Def
	quints      map[string][]models.Quintessence

	failures map[string]error
	holds    map[string]chan struct{}
	calls    map[string]int
	subs     map[int]subscription
	nextSub  int
	signedIn bool
}

type subscription struct {
	table  string
	filter realtime.Filter
	fn     func(realtime.Change)
}

// New returns an empty backend signed in as a fresh user.
func New() *Backend {
	return &Backend{
		User: models.User{
			ID:        uuid.NewString(),
			Email:     "player@example.com",
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		profiles:    make(map[string]models.Profile),
		characters:  make(map[string]models.Character),
		themes:      make(map[string]models.Theme),
		tags:        make(map[string]models.Tag),
		statuses:    make(map[string]models.Status),
		adventures:  make(map[string]models.Adventure),
		fellowships: make(map[string]models.Fellowship),
		defs:        make(map[models.DefKind][]models.Def),
		quints:      make(map[string][]models.Quintessence),
		failures:    make(map[string]error),
		holds:       make(map[string]chan struct{}),
		calls:       make(map[string]int),
		subs:        make(map[int]subscription),
		signedIn:    true,
	}
}

// --- Test controls ---

// Fail makes every later call to method return err. A nil err clears it.
func (b *Backend) Fail(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, method)
		return
	}
	b.failures[method] = err
}

// Hold blocks calls to method until the returned func is called.
func (b *Backend) Hold(method string) (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.holds[method] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.holds, method)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times method has been called.
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// Emit delivers c to every matching subscriber on the calling goroutine.
func (b *Backend) Emit(c realtime.Change) {
	b.mu.Lock()
	var fns []func(realtime.Change)
	for _, s := range b.subs {
		if s.table == c.Table && s.filter.Match(c) {
			fns = append(fns, s.fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Subscribers returns the number of live subscriptions on table.
func (b *Backend) Subscribers(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.table == table {
			n++
		}
	}
	return n
}

// enter records the call and returns any injected failure. It waits out a
// Hold without holding the lock.
func (b *Backend) enter(ctx context.Context, method string) error {
	b.mu.Lock()
	b.calls[method]++
	hold := b.holds[method]
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failures[method]; err != nil {
		return err
	}
	if !b.signedIn {
		return &remote.Error{Status: http.StatusUnauthorized, Message: models.ErrNotAuthenticated.Error()}
	}
	return nil
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (b *Backend) tick() time.Time {
	b.clock = b.clock.Add(time.Second)
	return b.clock
}

func errStatus(status int, format string, args ...any) error {
	return &remote.Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity string) error {
	return errStatus(http.StatusNotFound, "%s not found", entity)
}

func invalid(err error) error {
	return &remote.Error{Status: http.StatusBadRequest, Message: err.Error()}
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// --- Seeding ---

// SeedDefs replaces a definition table with one row per name and returns it.
func (b *Backend) SeedDefs(kind models.DefKind, names ...string) []models.Def {
	b.mu.Lock()
	defer b.mu.Unlock()
	defs := make([]models.Def, 0, len(names))
	for _, n := range names {
		defs = append(defs, models.Def{ID: uuid.NewString(), Name: n})
	}
	b.defs[kind] = defs
	return slices.Clone(defs)
}

// SeedStandardDefs loads the definitions the game ships with.
func (b *Backend) SeedStandardDefs() {
	b.SeedDefs(models.DefMightLevels, models.MightOrigin, models.MightAdventure, models.MightGreatness)
	b.SeedDefs(models.DefThemeTypes, "Mythos", "Logos", "Mist", models.ThemeTypeFellow)
	b.SeedDefs(models.DefQuintessences, "Courage", "Wonder")
}

// PutCharacter stores c as-is, assigning an id and timestamp when missing.
func (b *Backend) PutCharacter(c models.Character) models.Character {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.ID = newID(c.ID)
	if c.PlayerID == "" {
		c.PlayerID = b.User.ID
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = b.tick()
	}
	b.characters[c.ID] = c
	return c
}

// PutTheme stores t as-is.
func (b *Backend) PutTheme(t models.Theme) models.Theme {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.ID = newID(t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.tick()
	}
	b.themes[t.ID] = t
	return t
}

// PutTag stores t as-is.
func (b *Backend) PutTag(t models.Tag) models.Tag {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.ID = newID(t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.tick()
	}
	b.tags[t.ID] = t
	return t
}

// PutStatus stores s as-is.
func (b *Backend) PutStatus(s models.Status) models.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.ID = newID(s.ID)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = b.tick()
	}
	b.statuses[s.ID] = s
	return s
}

// PutAdventure stores an adventure owned by ownerID with its fellowship.
func (b *Backend) PutAdventure(name, code, ownerID string) (models.Adventure, models.Fellowship) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertAdventure("", name, code, ownerID)
}

func (b *Backend) insertAdventure(id, name, code, ownerID string) (models.Adventure, models.Fellowship) {
	a := models.Adventure{
		ID:            newID(id),
		Name:          name,
		SubscribeCode: code,
		OwnerPlayerID: ownerID,
		CreatedAt:     b.tick(),
	}
	f := models.Fellowship{ID: uuid.NewString(), AdventureID: a.ID, CreatedAt: a.CreatedAt}
	b.adventures[a.ID] = a
	b.fellowships[f.ID] = f
	return a, f
}

// SetDisplayName sets the profile name shown for playerID on rosters.
func (b *Backend) SetDisplayName(playerID, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.profiles[playerID]
	p.ID = playerID
	p.DisplayName = name
	b.profiles[playerID] = p
}

// --- Inspection ---

// StoredCharacter returns the stored row for id.
func (b *Backend) StoredCharacter(id string) (models.Character, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.characters[id]
	return c, ok
}

// StoredTheme returns the stored row for id.
func (b *Backend) StoredTheme(id string) (models.Theme, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.themes[id]
	return t, ok
}

// StoredTag returns the stored row for id.
func (b *Backend) StoredTag(id string) (models.Tag, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tags[id]
	return t, ok
}

// StoredStatus returns the stored row for id.
func (b *Backend) StoredStatus(id string) (models.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.statuses[id]
	return s, ok
}

// StoredAdventure returns the stored row for id.
func (b *Backend) StoredAdventure(id string) (models.Adventure, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.adventures[id]
	return a, ok
}

// ThemeCount returns the number of stored themes held by owner.
func (b *Backend) ThemeCount(owner models.Owner) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.themesOf(owner))
}

// SignedIn reports whether SignOut has not been called.
func (b *Backend) SignedIn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signedIn
}

// --- Session ---

func (b *Backend) CurrentUser(ctx context.Context) (*models.User, error) {
	if err := b.enter(ctx, "CurrentUser"); err != nil {
		return nil, err
	}
	u := b.User
	return &u, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	if err := b.enter(ctx, "SignOut"); err != nil {
		return err
	}
	b.mu.Lock()
	b.signedIn = false
	b.mu.Unlock()
	return nil
}

// --- Profile ---

func (b *Backend) ensureProfile() models.Profile {
	p, ok := b.profiles[b.User.ID]
	if !ok || p.CreatedAt.IsZero() {
		if !ok || p.DisplayName == "" {
			p.DisplayName = b.User.DefaultDisplayName()
		}
		p.ID = b.User.ID
		p.CreatedAt = b.tick()
		b.profiles[p.ID] = p
	}
	return p
}

func (b *Backend) Profile(ctx context.Context) (*models.Profile, error) {
	if err := b.enter(ctx, "Profile"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.ensureProfile()
	return &p, nil
}

func (b *Backend) UpdateProfile(ctx context.Context, req models.ProfileUpdate) (*models.Profile, error) {
	if err := b.enter(ctx, "UpdateProfile"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.ensureProfile()
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, invalid(models.ErrNameRequired)
		}
		p.DisplayName = name
	}
	if req.ActiveCharacterID.Set {
		if id := req.ActiveCharacterID.Value; id != nil {
			c, ok := b.characters[*id]
			if !ok || c.PlayerID != b.User.ID {
				return nil, errStatus(http.StatusForbidden, "not your character")
			}
		}
		p.ActiveCharacterID = req.ActiveCharacterID.Value
	}
	b.profiles[p.ID] = p
	return &p, nil
}

// --- Characters ---

func (b *Backend) Characters(ctx context.Context, limit int) ([]models.Character, error) {
	if err := b.enter(ctx, "Characters"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ownCharacters(limit), nil
}

func (b *Backend) ownCharacters(limit int) []models.Character {
	out := []models.Character{}
	for _, c := range b.characters {
		if c.PlayerID == b.User.ID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(x, y models.Character) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(y.ID, x.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (b *Backend) LatestCharacter(ctx context.Context) (*models.Character, error) {
	if err := b.enter(ctx, "LatestCharacter"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.ownCharacters(1)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (b *Backend) ownCharacter(id string) (models.Character, error) {
	c, ok := b.characters[id]
	if !ok {
		return c, notFound("character")
	}
	if c.PlayerID != b.User.ID {
		return c, errStatus(http.StatusForbidden, "not your character")
	}
	return c, nil
}

func (b *Backend) Character(ctx context.Context, id string) (*models.Character, error) {
	if err := b.enter(ctx, "Character"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.characters[id]
	if !ok {
		return nil, notFound("character")
	}
	return &c, nil
}

func (b *Backend) CreateCharacter(ctx context.Context, req models.CharacterCreate) (*models.Character, error) {
	if err := b.enter(ctx, "CreateCharacter"); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.characters[req.ID]; ok {
		return nil, errStatus(http.StatusConflict, "character already exists")
	}
	c := models.Character{ID: newID(req.ID), Name: name, PlayerID: b.User.ID, CreatedAt: b.tick()}
	b.characters[c.ID] = c
	return &c, nil
}

func (b *Backend) UpdateCharacter(ctx context.Context, id string, req models.CharacterUpdate) (*models.Character, error) {
	if err := b.enter(ctx, "UpdateCharacter"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.ownCharacter(id)
	if err != nil {
		return nil, err
	}
	if req.FellowshipID.Set && req.FellowshipID.Value != nil {
		return nil, errStatus(http.StatusBadRequest, "join a fellowship with its adventure code")
	}
	if req.Promise != nil && (*req.Promise < models.PromiseMin || *req.Promise > models.PromiseMax) {
		return nil, invalid(models.ErrPromiseRange)
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	req.Apply(&c)
	c.Name = strings.TrimSpace(c.Name)
	b.characters[id] = c
	return &c, nil
}

func (b *Backend) DeleteCharacter(ctx context.Context, id string) error {
	if err := b.enter(ctx, "DeleteCharacter"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownCharacter(id); err != nil {
		return err
	}
	delete(b.characters, id)
	delete(b.quints, id)
	for tid, t := range b.themes {
		if deref(t.CharacterID) == id {
			b.dropTheme(tid)
		}
	}
	for tid, t := range b.tags {
		if deref(t.CharacterID) == id {
			delete(b.tags, tid)
		}
	}
	for sid, s := range b.statuses {
		if deref(s.CharacterID) == id {
			delete(b.statuses, sid)
		}
	}
	for pid, p := range b.profiles {
		if deref(p.ActiveCharacterID) == id {
			p.ActiveCharacterID = nil
			b.profiles[pid] = p
		}
	}
	return nil
}

// PutQuintessence gives a character a quintessence by definition name.
func (b *Backend) PutQuintessence(characterID, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := models.FindDef(b.defs[models.DefQuintessences], name)
	if !ok {
		d = models.Def{ID: uuid.NewString(), Name: name}
	}
	b.quints[characterID] = append(b.quints[characterID], models.Quintessence{QuintessenceID: d.ID, Name: d.Name})
}

func (b *Backend) Quintessences(ctx context.Context, characterID string) ([]models.Quintessence, error) {
	if err := b.enter(ctx, "Quintessences"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownCharacter(characterID); err != nil {
		return nil, err
	}
	out := slices.Clone(b.quints[characterID])
	slices.SortFunc(out, func(x, y models.Quintessence) int { return strings.Compare(x.Name, y.Name) })
	if out == nil {
		out = []models.Quintessence{}
	}
	return out, nil
}

func (b *Backend) AddQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	if err := b.enter(ctx, "AddQuintessence"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownCharacter(characterID); err != nil {
		return err
	}
	d, ok := findDefByID(b.defs[models.DefQuintessences], quintessenceID)
	if !ok {
		return errStatus(http.StatusBadRequest, "unknown quintessence")
	}
	for _, q := range b.quints[characterID] {
		if q.QuintessenceID == quintessenceID {
			return nil
		}
	}
	b.quints[characterID] = append(b.quints[characterID], models.Quintessence{QuintessenceID: d.ID, Name: d.Name})
	return nil
}

func (b *Backend) RemoveQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	if err := b.enter(ctx, "RemoveQuintessence"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownCharacter(characterID); err != nil {
		return err
	}
	b.quints[characterID] = slices.DeleteFunc(b.quints[characterID], func(q models.Quintessence) bool {
		return q.QuintessenceID == quintessenceID
	})
	return nil
}

func findDefByID(defs []models.Def, id string) (models.Def, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return models.Def{}, false
}

// --- Themes ---

func (b *Backend) themesOf(owner models.Owner) []models.Theme {
	out := []models.Theme{}
	for _, t := range b.themes {
		if t.Owner() == owner {
			out = append(out, t)
		}
	}
	models.SortThemes(out)
	return out
}

func (b *Backend) Themes(ctx context.Context, owner models.Owner) ([]models.Theme, error) {
	if err := b.enter(ctx, "Themes"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.themesOf(owner), nil
}

func (b *Backend) CreateTheme(ctx context.Context, req models.ThemeCreate) (*models.Theme, error) {
	if err := b.enter(ctx, "CreateTheme"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.themes[req.ID]; ok {
		return nil, errStatus(http.StatusConflict, "theme already exists")
	}
	n := len(b.themesOf(req.Owner))
	switch req.Owner.Kind {
	case models.OwnerCharacter:
		if n >= models.MaxCharacterThemes {
			return nil, &remote.Error{Status: http.StatusConflict, Message: models.ErrThemeLimit.Error()}
		}
	case models.OwnerFellowship:
		if n >= models.MaxFellowshipThemes {
			return nil, errStatus(http.StatusConflict, "a fellowship has only one theme")
		}
	}
	return b.insertTheme(req), nil
}

func (b *Backend) insertTheme(req models.ThemeCreate) *models.Theme {
	cols := req.Owner.Columns()
	typeID, mightID := req.TypeID, req.MightLevelID
	t := models.Theme{
		ID:           newID(req.ID),
		Name:         strings.TrimSpace(req.Name),
		CharacterID:  cols.CharacterID,
		FellowshipID: cols.FellowshipID,
		TypeID:       &typeID,
		MightLevelID: &mightID,
		CreatedAt:    b.tick(),
	}
	b.themes[t.ID] = t
	return &t
}

func (b *Backend) UpdateTheme(ctx context.Context, id string, req models.ThemeUpdate) (*models.Theme, error) {
	if err := b.enter(ctx, "UpdateTheme"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.themes[id]
	if !ok {
		return nil, notFound("theme")
	}
	for _, v := range []*int{req.Improve, req.Abandon, req.Milestone} {
		if v != nil && (*v < 0 || *v > models.CounterMax) {
			return nil, invalid(models.ErrInvalidCounter)
		}
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	req.Apply(&t)
	b.themes[id] = t
	return &t, nil
}

func (b *Backend) DeleteTheme(ctx context.Context, id string) error {
	if err := b.enter(ctx, "DeleteTheme"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.themes[id]; !ok {
		return notFound("theme")
	}
	b.dropTheme(id)
	return nil
}

func (b *Backend) dropTheme(id string) {
	delete(b.themes, id)
	for tid, t := range b.tags {
		if deref(t.ThemeID) == id {
			delete(b.tags, tid)
		}
	}
}

func (b *Backend) FellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	if err := b.enter(ctx, "FellowshipTheme"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.themesOf(models.FellowshipOwner(fellowshipID))
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (b *Backend) EnsureFellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	if err := b.enter(ctx, "EnsureFellowshipTheme"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canEdit(fellowshipID) {
		return nil, errStatus(http.StatusForbidden, "not a member of this fellowship")
	}
	if list := b.themesOf(models.FellowshipOwner(fellowshipID)); len(list) > 0 {
		return &list[0], nil
	}
	typ, ok1 := models.FindDef(b.defs[models.DefThemeTypes], models.ThemeTypeFellow)
	might, ok2 := models.FindDef(b.defs[models.DefMightLevels], models.MightOrigin)
	if !ok1 || !ok2 {
		return nil, notFound("definition")
	}
	return b.insertTheme(models.ThemeCreate{
		Owner:        models.FellowshipOwner(fellowshipID),
		Name:         "Fellowship Theme",
		TypeID:       typ.ID,
		MightLevelID: might.ID,
	}), nil
}

// --- Tags ---

func (b *Backend) Tags(ctx context.Context, q models.TagQuery) ([]models.Tag, error) {
	if err := b.enter(ctx, "Tags"); err != nil {
		return nil, err
	}
	if q.Empty() {
		return nil, errStatus(http.StatusBadRequest, "character_id, theme_id or fellowship_id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Tag{}
	for _, t := range b.tags {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(x, y models.Tag) int {
		return cmp.Or(x.CreatedAt.Compare(y.CreatedAt), strings.Compare(x.ID, y.ID))
	})
	return out, nil
}

func (b *Backend) CreateTag(ctx context.Context, req models.TagCreate) (*models.Tag, error) {
	if err := b.enter(ctx, "CreateTag"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tags[req.ID]; ok {
		return nil, errStatus(http.StatusConflict, "tag already exists")
	}
	t := req.Row()
	t.ID = newID(t.ID)
	t.CreatedAt = b.tick()
	b.tags[t.ID] = t
	return &t, nil
}

func (b *Backend) UpdateTag(ctx context.Context, id string, req models.TagUpdate) (*models.Tag, error) {
	if err := b.enter(ctx, "UpdateTag"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tags[id]
	if !ok {
		return nil, notFound("tag")
	}
	if req.IsScratched != nil && *req.IsScratched && !t.Type.Scratchable() {
		return nil, invalid(models.ErrNotScratchable)
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	req.Apply(&t)
	b.tags[id] = t
	return &t, nil
}

func (b *Backend) DeleteTag(ctx context.Context, id string) error {
	if err := b.enter(ctx, "DeleteTag"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tags[id]; !ok {
		return notFound("tag")
	}
	delete(b.tags, id)
	return nil
}

// --- Statuses ---

func (b *Backend) Statuses(ctx context.Context, owner models.Owner) ([]models.Status, error) {
	if err := b.enter(ctx, "Statuses"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Status{}
	for _, s := range b.statuses {
		if s.Owner() == owner {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(x, y models.Status) int {
		return cmp.Or(x.CreatedAt.Compare(y.CreatedAt), strings.Compare(x.ID, y.ID))
	})
	return out, nil
}

func (b *Backend) CreateStatus(ctx context.Context, req models.StatusCreate) (*models.Status, error) {
	if err := b.enter(ctx, "CreateStatus"); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.statuses[req.ID]; ok {
		return nil, errStatus(http.StatusConflict, "status already exists")
	}
	s := req.Row()
	s.ID = newID(s.ID)
	s.CreatedAt = b.tick()
	b.statuses[s.ID] = s
	return &s, nil
}

func (b *Backend) UpdateStatus(ctx context.Context, id string, req models.StatusUpdate) (*models.Status, error) {
	if err := b.enter(ctx, "UpdateStatus"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.statuses[id]
	if !ok {
		return nil, notFound("status")
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	req.Apply(&s)
	b.statuses[id] = s
	return &s, nil
}

func (b *Backend) DeleteStatus(ctx context.Context, id string) error {
	if err := b.enter(ctx, "DeleteStatus"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.statuses[id]; !ok {
		return notFound("status")
	}
	delete(b.statuses, id)
	return nil
}

// --- Adventures ---

func (b *Backend) fellowshipOf(adventureID string) (models.Fellowship, bool) {
	for _, f := range b.fellowships {
		if f.AdventureID == adventureID {
			return f, true
		}
	}
	return models.Fellowship{}, false
}

func (b *Backend) isMember(fellowshipID string) bool {
	for _, c := range b.characters {
		if c.PlayerID == b.User.ID && deref(c.FellowshipID) == fellowshipID {
			return true
		}
	}
	return false
}

func (b *Backend) canEdit(fellowshipID string) bool {
	f, ok := b.fellowships[fellowshipID]
	if !ok {
		return false
	}
	return b.adventures[f.AdventureID].OwnerPlayerID == b.User.ID || b.isMember(fellowshipID)
}

func (b *Backend) Adventures(ctx context.Context) ([]models.Adventure, error) {
	if err := b.enter(ctx, "Adventures"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Adventure{}
	for _, a := range b.adventures {
		f, _ := b.fellowshipOf(a.ID)
		if a.OwnerPlayerID == b.User.ID || b.isMember(f.ID) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(x, y models.Adventure) int {
		return cmp.Or(y.CreatedAt.Compare(x.CreatedAt), strings.Compare(y.ID, x.ID))
	})
	return out, nil
}

func (b *Backend) Adventure(ctx context.Context, id string) (*models.Adventure, error) {
	if err := b.enter(ctx, "Adventure"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.adventures[id]
	if !ok {
		return nil, notFound("adventure")
	}
	return &a, nil
}

func (b *Backend) CreateAdventure(ctx context.Context, req models.AdventureCreate) (*models.Adventure, error) {
	if err := b.enter(ctx, "CreateAdventure"); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid(models.ErrNameRequired)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.adventures[req.ID]; ok {
		return nil, errStatus(http.StatusConflict, "adventure already exists")
	}
	b.ensureProfile()
	a, _ := b.insertAdventure(req.ID, name, b.freeCode(), b.User.ID)
	return &a, nil
}

// freeCode returns the first unused code in AAAA, AAAB, ... order.
func (b *Backend) freeCode() string {
	used := make(map[string]bool, len(b.adventures))
	for _, a := range b.adventures {
		used[a.SubscribeCode] = true
	}
	code := []byte("AAAA")
	for used[string(code)] {
		for i := len(code) - 1; i >= 0; i-- {
			if code[i] < 'Z' {
				code[i]++
				break
			}
			code[i] = 'A'
		}
	}
	return string(code)
}

func (b *Backend) ownAdventure(id string) (models.Adventure, error) {
	a, ok := b.adventures[id]
	if !ok {
		return a, notFound("adventure")
	}
	if a.OwnerPlayerID != b.User.ID {
		return a, errStatus(http.StatusForbidden, "only the owner can change this adventure")
	}
	return a, nil
}

func (b *Backend) UpdateAdventure(ctx context.Context, id string, req models.AdventureUpdate) (*models.Adventure, error) {
	if err := b.enter(ctx, "UpdateAdventure"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.ownAdventure(id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalid(models.ErrNameRequired)
		}
		a.Name = name
	}
	b.adventures[id] = a
	return &a, nil
}

func (b *Backend) DeleteAdventure(ctx context.Context, id string) error {
	if err := b.enter(ctx, "DeleteAdventure"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.ownAdventure(id); err != nil {
		return err
	}
	if f, ok := b.fellowshipOf(id); ok {
		b.release(f.ID, "")
		for tid, t := range b.themes {
			if deref(t.FellowshipID) == f.ID {
				b.dropTheme(tid)
			}
		}
		delete(b.fellowships, f.ID)
	}
	delete(b.adventures, id)
	return nil
}

// release clears the fellowship of every character in fellowshipID, or only
// playerID's characters when playerID is set.
func (b *Backend) release(fellowshipID, playerID string) int {
	n := 0
	for id, c := range b.characters {
		if deref(c.FellowshipID) != fellowshipID {
			continue
		}
		if playerID != "" && c.PlayerID != playerID {
			continue
		}
		c.FellowshipID = nil
		b.characters[id] = c
		n++
	}
	return n
}

func (b *Backend) QuitAdventure(ctx context.Context, adventureID string) (int, error) {
	if err := b.enter(ctx, "QuitAdventure"); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.adventures[adventureID]
	if !ok {
		return 0, notFound("adventure")
	}
	if a.OwnerPlayerID == b.User.ID {
		return 0, errStatus(http.StatusConflict, "owners can't leave their own adventure")
	}
	f, _ := b.fellowshipOf(adventureID)
	n := b.release(f.ID, b.User.ID)
	if n == 0 {
		return 0, errStatus(http.StatusNotFound, "none of your characters are in this adventure")
	}
	return n, nil
}

func (b *Backend) AdventureFellowship(ctx context.Context, adventureID string) (*models.Fellowship, error) {
	if err := b.enter(ctx, "AdventureFellowship"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fellowshipOf(adventureID)
	if !ok {
		return nil, notFound("fellowship")
	}
	return &f, nil
}

func (b *Backend) Fellowship(ctx context.Context, id string) (*models.Fellowship, error) {
	if err := b.enter(ctx, "Fellowship"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fellowships[id]
	if !ok {
		return nil, notFound("fellowship")
	}
	return &f, nil
}

func (b *Backend) CanEditFellowship(ctx context.Context, fellowshipID string) (bool, error) {
	if err := b.enter(ctx, "CanEditFellowship"); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fellowships[fellowshipID]; !ok {
		return false, notFound("fellowship")
	}
	return b.canEdit(fellowshipID), nil
}

// --- Definitions ---

func (b *Backend) Defs(ctx context.Context, kind models.DefKind) ([]models.Def, error) {
	if err := b.enter(ctx, "Defs"); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, errStatus(http.StatusNotFound, "Definition table not found")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := slices.Clone(b.defs[kind])
	if out == nil {
		out = []models.Def{}
	}
	return out, nil
}

func (b *Backend) DefByName(ctx context.Context, kind models.DefKind, name string) (*models.Def, error) {
	if err := b.enter(ctx, "DefByName"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := models.FindDef(b.defs[kind], name)
	if !ok {
		return nil, notFound("definition")
	}
	return &d, nil
}

// --- Procedures ---

func (b *Backend) JoinFellowshipByCode(ctx context.Context, req models.JoinRequest) (*models.JoinedAdventure, error) {
	if err := b.enter(ctx, "JoinFellowshipByCode"); err != nil {
		return nil, err
	}
	if !models.ValidJoinCode(req.JoinCode) {
		return nil, invalid(models.ErrInvalidJoinCode)
	}
	code := models.JoinCodeLetters(req.JoinCode)
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.ownCharacter(req.CharacterID)
	if err != nil {
		return nil, err
	}
	for _, a := range b.adventures {
		if a.SubscribeCode != code {
			continue
		}
		f, _ := b.fellowshipOf(a.ID)
		fid := f.ID
		c.FellowshipID = &fid
		b.characters[c.ID] = c
		return &models.JoinedAdventure{
			ID:             a.ID,
			Name:           a.Name,
			SubscribeCode:  a.SubscribeCode,
			FellowshipID:   f.ID,
			FellowshipName: f.Name,
		}, nil
	}
	return nil, errStatus(http.StatusNotFound, "no adventure with that code")
}

func (b *Backend) AdventureRoster(ctx context.Context, adventureID string) ([]models.RosterEntry, error) {
	if err := b.enter(ctx, "AdventureRoster"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.fellowshipOf(adventureID)
	if !ok {
		return nil, notFound("adventure")
	}
	out := []models.RosterEntry{}
	for _, c := range b.characters {
		if deref(c.FellowshipID) != f.ID {
			continue
		}
		owner := strings.TrimSpace(b.profiles[c.PlayerID].DisplayName)
		if owner == "" {
			owner = "Player"
		}
		out = append(out, models.RosterEntry{
			CharacterID:        c.ID,
			CharacterName:      c.Name,
			OwnerDisplayName:   owner,
			CharacterCreatedAt: c.CreatedAt,
			BriefFields:        c.BriefFields,
		})
	}
	slices.SortFunc(out, func(x, y models.RosterEntry) int {
		return cmp.Or(x.CharacterCreatedAt.Compare(y.CharacterCreatedAt), strings.Compare(x.CharacterID, y.CharacterID))
	})
	return out, nil
}

// --- Changes ---

func (b *Backend) Subscribe(ctx context.Context, table string, filter realtime.Filter, fn func(realtime.Change)) (func(), error) {
	if err := b.enter(ctx, "Subscribe"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = subscription{table: table, filter: filter, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Notices records every notice it is given.
type Notices struct {
	mu   sync.Mutex
	list []remote.Notice
}

func (n *Notices) Notify(notice remote.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, notice)
}

// All returns the notices received so far.
func (n *Notices) All() []remote.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.list)
}

// Errors returns the error-level notices.
func (n *Notices) Errors() []remote.Notice {
	var out []remote.Notice
	for _, notice := range n.All() {
		if notice.Level == remote.LevelError {
			out = append(out, notice)
		}
	}
	return out
}
