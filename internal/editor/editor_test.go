package editor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/remote/remotetest"
)

func newDeps(t *testing.T) (*remotetest.Backend, *remotetest.Notices, Deps) {
	t.Helper()
	b := remotetest.New()
	b.SeedStandardDefs()
	n := &remotetest.Notices{}
	return b, n, Deps{Backend: b, Notify: n}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func strPtr(s string) *string { return &s }

func TestAddTagIsOptimisticAndRollsBack(t *testing.T) {
	b, notices, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	theme := b.PutTheme(models.Theme{Name: "Blacksmith", CharacterID: &char.ID})

	list := NewThemeTags(d, theme.ID, models.TagPower)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	b.Fail("CreateTag", &remote.Error{Status: http.StatusInternalServerError, Message: "boom"})
	release := b.Hold("CreateTag")
	done := make(chan error, 1)
	go func() { done <- list.Add(ctx, "Iron Grip") }()

	waitFor(t, "create call", func() bool { return b.Calls("CreateTag") == 1 })
	tags := list.Tags()
	if len(tags) != 1 || tags[0].Name != "Iron Grip" || tags[0].Type != models.TagPower {
		t.Fatalf("expected optimistic Iron Grip, got %+v", tags)
	}
	release()

	if err := <-done; err == nil {
		t.Fatalf("expected add to fail")
	}
	if got := list.Tags(); len(got) != 0 {
		t.Fatalf("expected rollback, got %+v", got)
	}
	errs := notices.Errors()
	if len(errs) != 1 || errs[0].Title != "Could not add tag" || errs[0].Message != "boom" {
		t.Fatalf("unexpected notices: %+v", errs)
	}

	// Retry after the failure clears.
	b.Fail("CreateTag", nil)
	if err := list.Add(ctx, "Iron Grip"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := list.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := list.Tags(); len(got) != 1 {
		t.Fatalf("expected one stored tag, got %+v", got)
	}
}

func TestFailedDeleteKeepsOverlappingAdd(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	theme := b.PutTheme(models.Theme{Name: "Blacksmith", CharacterID: &char.ID})
	anvil := b.PutTag(models.Tag{Name: "Anvil", Type: models.TagPower, ThemeID: &theme.ID})

	list := NewThemeTags(d, theme.ID, models.TagPower)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	b.Fail("DeleteTag", &remote.Error{Status: http.StatusForbidden, Message: "denied"})
	release := b.Hold("DeleteTag")
	done := make(chan error, 1)
	go func() { done <- list.Remove(ctx, anvil.ID) }()
	waitFor(t, "delete call", func() bool { return b.Calls("DeleteTag") == 1 })

	if err := list.Add(ctx, "Iron Grip"); err != nil {
		t.Fatalf("add: %v", err)
	}
	release()
	if err := <-done; err == nil {
		t.Fatal("expected delete to fail")
	}

	got := list.Tags()
	if len(got) != 2 || got[0].Name != "Anvil" || got[1].Name != "Iron Grip" {
		t.Fatalf("expected Anvil back beside Iron Grip, got %+v", got)
	}
}

func TestFailedTierToggleKeepsOverlappingRemove(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	owner := models.CharacterOwner(char.ID)
	hurt := b.PutStatus(models.Status{Name: "hurt", CharacterID: &char.ID})
	tired := b.PutStatus(models.Status{Name: "tired", CharacterID: &char.ID})

	st := NewStatuses(d, owner)
	if err := st.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	b.Fail("UpdateStatus", &remote.Error{Status: http.StatusInternalServerError, Message: "boom"})
	release := b.Hold("UpdateStatus")
	done := make(chan error, 1)
	go func() { done <- st.ToggleTier(ctx, hurt.ID, 2) }()
	waitFor(t, "update call", func() bool { return b.Calls("UpdateStatus") == 1 })

	if err := st.Remove(ctx, tired.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	release()
	if err := <-done; err == nil {
		t.Fatal("expected toggle to fail")
	}

	got := st.List()
	if len(got) != 1 || got[0].ID != hurt.ID || got[0].Tier(2) {
		t.Fatalf("expected only hurt with tier 2 cleared, got %+v", got)
	}
}

func TestTagListOrderAndScratch(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	theme := b.PutTheme(models.Theme{Name: "Blacksmith", CharacterID: &char.ID})
	b.PutTag(models.Tag{Name: "zeal", Type: models.TagPower, ThemeID: &theme.ID})
	b.PutTag(models.Tag{Name: "Anvil", Type: models.TagPower, ThemeID: &theme.ID})
	weak := b.PutTag(models.Tag{Name: "Stubborn", Type: models.TagWeakness, ThemeID: &theme.ID})

	powers := NewThemeTags(d, theme.ID, models.TagPower)
	if err := powers.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := powers.Tags()
	if len(got) != 2 || got[0].Name != "Anvil" || got[1].Name != "zeal" {
		t.Fatalf("unexpected order: %+v", got)
	}

	if err := powers.ToggleScratch(ctx, got[0].ID); err != nil {
		t.Fatalf("scratch: %v", err)
	}
	if stored, _ := b.StoredTag(got[0].ID); !stored.IsScratched {
		t.Fatalf("expected stored tag scratched")
	}

	weaknesses := NewThemeTags(d, theme.ID, models.TagWeakness)
	if err := weaknesses.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	calls := b.Calls("UpdateTag")
	if err := weaknesses.ToggleScratch(ctx, weak.ID); !errors.Is(err, models.ErrNotScratchable) {
		t.Fatalf("expected ErrNotScratchable, got %v", err)
	}
	if b.Calls("UpdateTag") != calls {
		t.Fatalf("weakness scratch reached the backend")
	}
	if err := weaknesses.AddTyped(ctx, "Fragile", models.TagPower); !errors.Is(err, models.ErrInvalidTagType) {
		t.Fatalf("expected ErrInvalidTagType, got %v", err)
	}
}

func TestBackpackWatchReloads(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})

	pack := NewBackpack(d, char.ID)
	if err := pack.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	stop, err := pack.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	tag := b.PutTag(models.Tag{Name: "Rope", Type: models.TagStory, CharacterID: &char.ID})
	b.Emit(realtime.Change{Table: "tags", Op: realtime.OpInsert, ID: tag.ID, Columns: map[string]string{"character_id": char.ID}})
	if got := pack.Tags(); len(got) != 1 || got[0].Name != "Rope" {
		t.Fatalf("expected reload after change, got %+v", got)
	}

	stop()
	if b.Subscribers("tags") != 0 {
		t.Fatalf("expected subscription closed")
	}
}

func TestThemeCounterClicks(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	card := NewThemeCard(d, b.PutTheme(models.Theme{Name: "Blacksmith", CharacterID: &char.ID}))

	steps := []struct {
		position int
		want     int
	}{
		{2, 2},
		{2, 1},
		{3, 3},
		{1, 0},
	}
	for _, s := range steps {
		if err := card.ClickCounter(ctx, models.CounterImprove, s.position); err != nil {
			t.Fatalf("click %d: %v", s.position, err)
		}
		if got := card.Theme().Improve; got != s.want {
			t.Fatalf("click %d: expected %d, got %d", s.position, s.want, got)
		}
	}
	stored, _ := b.StoredTheme(card.Theme().ID)
	if stored.Improve != 0 || stored.Abandon != 0 {
		t.Fatalf("unexpected stored counters: %+v", stored)
	}
	if err := card.ClickCounter(ctx, models.CounterAbandon, 4); !errors.Is(err, models.ErrInvalidCounter) {
		t.Fatalf("expected ErrInvalidCounter, got %v", err)
	}
	if card.Saving() {
		t.Fatalf("card still saving")
	}
}

func TestThemeDrafts(t *testing.T) {
	b, notices, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	card := NewThemeCard(d, b.PutTheme(models.Theme{Name: "Blacksmith", CharacterID: &char.ID}))

	card.BeginRename()
	card.Name.Set("Smith")
	card.Name.Cancel()
	if b.Calls("UpdateTheme") != 0 || card.Theme().Name != "Blacksmith" {
		t.Fatalf("cancel should not write")
	}

	card.BeginRename()
	card.Name.Set("  ")
	if err := card.SaveName(ctx); !errors.Is(err, models.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if !card.Name.Editing() {
		t.Fatalf("draft should stay open after a failed save")
	}
	card.Name.Set("Blacksmith")
	if err := card.SaveName(ctx); err != nil || b.Calls("UpdateTheme") != 0 {
		t.Fatalf("unchanged name: err=%v calls=%d", err, b.Calls("UpdateTheme"))
	}

	b.Fail("UpdateTheme", &remote.Error{Status: http.StatusInternalServerError})
	card.BeginRename()
	card.Name.Set("Smith")
	if err := card.SaveName(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	if card.Theme().Name != "Blacksmith" || !card.Name.Editing() {
		t.Fatalf("expected rollback with draft open, got %q", card.Theme().Name)
	}
	if len(notices.Errors()) != 1 {
		t.Fatalf("expected one error notice")
	}
	b.Fail("UpdateTheme", nil)
	if err := card.SaveName(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if stored, _ := b.StoredTheme(card.Theme().ID); stored.Name != "Smith" {
		t.Fatalf("expected stored rename, got %q", stored.Name)
	}

	card.BeginQuest()
	card.Quest.Set("Forge the blade")
	if err := card.SaveQuest(ctx); err != nil {
		t.Fatalf("quest: %v", err)
	}
	card.BeginQuest()
	card.Quest.Set(" ")
	if err := card.SaveQuest(ctx); err != nil {
		t.Fatalf("clear quest: %v", err)
	}
	if stored, _ := b.StoredTheme(card.Theme().ID); stored.Quest != nil {
		t.Fatalf("expected quest cleared, got %q", *stored.Quest)
	}
}

func TestThemeFormDefaults(t *testing.T) {
	types := []models.Def{{ID: "t1", Name: "Mythos"}, {ID: "t2", Name: "Logos"}}
	mights := []models.Def{{ID: "m3", Name: models.MightGreatness}, {ID: "m1", Name: models.MightOrigin}}
	f := NewThemeForm(types, mights)
	if f.TypeID != "t1" || f.MightLevelID != "m1" {
		t.Fatalf("unexpected defaults: %+v", f)
	}
	if f.Ready() {
		t.Fatalf("form without a name should not be ready")
	}
	f.Name = "Blacksmith"
	if !f.Ready() {
		t.Fatalf("expected ready form")
	}
	th := models.Theme{MightLevelID: strPtr("m3")}
	if got := MightName(th, mights); got != models.MightGreatness {
		t.Fatalf("unexpected might name %q", got)
	}
}

func TestStatusTiers(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	list := NewStatuses(d, models.CharacterOwner(char.ID))
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := list.Add(ctx, "wounded", true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := list.Add(ctx, "inspired", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	rows := list.List()
	if len(rows) != 2 || rows[0].Name != "wounded" {
		t.Fatalf("expected creation order, got %+v", rows)
	}
	id := rows[0].ID

	if err := list.ToggleTier(ctx, id, 3); err != nil {
		t.Fatalf("tier: %v", err)
	}
	if s, _ := b.StoredStatus(id); !s.Tier3 || s.Tier1 || s.HighestTier() != 3 {
		t.Fatalf("expected only tier 3, got %+v", s)
	}
	if err := list.ToggleTier(ctx, id, 3); err != nil {
		t.Fatalf("tier: %v", err)
	}
	if s, _ := b.StoredStatus(id); s.Tier3 || s.HighestTier() != 0 {
		t.Fatalf("expected tier 3 cleared, got %+v", s)
	}
	if err := list.ToggleTier(ctx, id, 7); !errors.Is(err, models.ErrInvalidTier) {
		t.Fatalf("expected ErrInvalidTier, got %v", err)
	}

	calls := b.Calls("UpdateStatus")
	if err := list.Rename(ctx, id, " wounded "); err != nil || b.Calls("UpdateStatus") != calls {
		t.Fatalf("unchanged rename should not write: %v", err)
	}
	if err := list.ToggleNegative(ctx, id); err != nil {
		t.Fatalf("negative: %v", err)
	}
	if s, _ := b.StoredStatus(id); s.IsNegative {
		t.Fatalf("expected status no longer negative")
	}

	b.Fail("DeleteStatus", &remote.Error{Status: http.StatusForbidden})
	if err := list.Remove(ctx, id); err == nil {
		t.Fatalf("expected delete failure")
	}
	if len(list.List()) != 2 {
		t.Fatalf("expected rollback of delete")
	}
	b.Fail("DeleteStatus", nil)
	if err := list.Remove(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := b.StoredStatus(id); ok {
		t.Fatalf("status still stored")
	}
}

func TestPromiseClampsAndBusy(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	cell := NewCharacterCell(d, b.PutCharacter(models.Character{Name: "Mira", Promise: models.PromiseMax}))
	p := NewPromise(cell)

	if p.CanIncrement() {
		t.Fatalf("cannot increment at max")
	}
	if err := p.Increment(ctx); err != nil || b.Calls("UpdateCharacter") != 0 {
		t.Fatalf("increment at max should be a no-op: %v", err)
	}

	release := b.Hold("UpdateCharacter")
	done := make(chan error, 1)
	go func() { done <- p.Decrement(ctx) }()
	waitFor(t, "busy promise", p.Busy)
	if p.Value() != 4 {
		t.Fatalf("expected optimistic 4, got %d", p.Value())
	}
	if p.CanIncrement() || p.CanDecrement() {
		t.Fatalf("steppers must be disabled while busy")
	}
	if err := p.Decrement(ctx); err != nil {
		t.Fatalf("busy decrement: %v", err)
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if b.Calls("UpdateCharacter") != 1 || p.Value() != 4 {
		t.Fatalf("expected a single write to 4, calls=%d value=%d", b.Calls("UpdateCharacter"), p.Value())
	}

	cell.Replace(models.Character{ID: cell.Get().ID, Name: "Mira"})
	if p.CanDecrement() {
		t.Fatalf("cannot decrement at zero")
	}
	if err := p.Decrement(ctx); err != nil || b.Calls("UpdateCharacter") != 1 {
		t.Fatalf("decrement at zero should be a no-op")
	}
}

func TestBioSave(t *testing.T) {
	b, notices, d := newDeps(t)
	ctx := context.Background()
	cell := NewCharacterCell(d, b.PutCharacter(models.Character{Name: "Mira"}))
	bio := NewBio(cell)

	bio.EditBrief()
	bio.Brief.Update(func(f *models.BriefFields) {
		f.TraitPhysical = "scarred"
		f.TraitPersonality = "curious"
		f.Race = "wood elf"
		f.Class = "ranger"
	})
	if err := bio.SaveBrief(ctx); err != nil {
		t.Fatalf("save brief: %v", err)
	}
	if bio.Brief.Editing() {
		t.Fatalf("draft should close on success")
	}
	if got := bio.Summary(); got != "scarred, curious Wood Elf Ranger" {
		t.Fatalf("unexpected summary %q", got)
	}
	all := notices.All()
	if len(all) != 1 || all[0].Level != remote.LevelInfo || all[0].Title != "Saved" {
		t.Fatalf("expected Saved notice, got %+v", all)
	}

	b.Fail("UpdateCharacter", &remote.Error{Status: http.StatusInternalServerError})
	bio.EditDetails()
	bio.Details.Update(func(v *models.Bio) { v.Background = "Raised by wolves" })
	if err := bio.SaveDetails(ctx); err == nil {
		t.Fatalf("expected failure")
	}
	if !bio.Details.Editing() || cell.Get().Background != "" {
		t.Fatalf("expected rollback with draft open")
	}
	b.Fail("UpdateCharacter", nil)
	if err := bio.SaveDetails(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored, _ := b.StoredCharacter(cell.Get().ID)
	if stored.Background != "Raised by wolves" || stored.Race != "wood elf" {
		t.Fatalf("unexpected stored bio: %+v", stored)
	}
}

func TestProfile(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	char := b.PutCharacter(models.Character{Name: "Mira"})
	other := b.PutCharacter(models.Character{Name: "Theirs", PlayerID: "someone-else"})

	p := NewProfile(d)
	if err := p.SetActiveCharacter(ctx, char.ID); !errors.Is(err, models.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded before load, got %v", err)
	}
	if err := p.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := p.SetActiveCharacter(ctx, char.ID); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if got := p.Profile().ActiveCharacterID; got == nil || *got != char.ID {
		t.Fatalf("unexpected active character %v", got)
	}
	if err := p.SetActiveCharacter(ctx, other.ID); !remote.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if got := p.Profile().ActiveCharacterID; got == nil || *got != char.ID {
		t.Fatalf("expected rollback to own character")
	}

	p.BeginRename()
	p.Name.Set("Meur")
	if err := p.SaveName(ctx); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := p.Load(ctx); err != nil || p.Profile().DisplayName != "Meur" {
		t.Fatalf("expected stored name, got %+v (%v)", p.Profile(), err)
	}
}
