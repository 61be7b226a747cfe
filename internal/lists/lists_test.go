package lists

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/meur/mistbook/internal/editor"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/remote/remotetest"
)

func newDeps(t *testing.T) (*remotetest.Backend, *remotetest.Notices, editor.Deps) {
	t.Helper()
	b := remotetest.New()
	b.SeedStandardDefs()
	n := &remotetest.Notices{}
	return b, n, editor.Deps{Backend: b, Notify: n}
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

func names[T any](rows []T, name func(T) string) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = name(r)
	}
	return out
}

func TestCharactersNewestFirst(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	b.PutCharacter(models.Character{Name: "Old"})
	b.PutCharacter(models.Character{Name: "New"})
	b.PutCharacter(models.Character{Name: "Theirs", PlayerID: "someone-else"})

	list := NewCharacters(d)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := names(list.List(), func(c models.Character) string { return c.Name })
	if len(got) != 2 || got[0] != "New" || got[1] != "Old" {
		t.Fatalf("unexpected order %v", got)
	}

	id, err := list.Create(ctx, "  Newest ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if list.List()[0].ID != id || list.List()[0].Name != "Newest" {
		t.Fatalf("expected the new character first, got %+v", list.List()[0])
	}
	if _, err := list.Create(ctx, " "); !errors.Is(err, models.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if b.Calls("CreateCharacter") != 1 {
		t.Fatalf("blank names must not reach the backend")
	}
}

func TestCharacterDeleteIsOptimistic(t *testing.T) {
	b, notices, d := newDeps(t)
	ctx := context.Background()
	c := b.PutCharacter(models.Character{Name: "Mira"})
	list := NewCharacters(d)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	b.Fail("DeleteCharacter", &remote.Error{Status: http.StatusInternalServerError, Message: "down"})
	if err := list.Delete(ctx, c.ID); err == nil {
		t.Fatalf("expected failure")
	}
	if len(list.List()) != 1 {
		t.Fatalf("expected the character back after a failed delete")
	}
	if errs := notices.Errors(); len(errs) != 1 || errs[0].Message != "down" {
		t.Fatalf("unexpected notices %+v", errs)
	}

	b.Fail("DeleteCharacter", nil)
	release := b.Hold("DeleteCharacter")
	done := make(chan error, 1)
	go func() { done <- list.Delete(ctx, c.ID) }()
	waitFor(t, "delete call", func() bool { return b.Calls("DeleteCharacter") == 2 })
	if len(list.List()) != 0 {
		t.Fatalf("expected removal before the remote delete completes")
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := b.StoredCharacter(c.ID); ok {
		t.Fatalf("character still stored")
	}
}

func TestCharactersWatchAndRename(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	c := b.PutCharacter(models.Character{Name: "Mira"})
	list := NewCharacters(d)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	stop, err := list.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer stop()

	if err := list.Rename(ctx, c.ID, "Mira the Bold"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := list.Rename(ctx, "missing", "x"); !errors.Is(err, models.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}

	other := b.PutCharacter(models.Character{Name: "Kael"})
	b.Emit(realtime.Change{Table: "characters", Op: realtime.OpInsert, ID: other.ID})
	got := names(list.List(), func(c models.Character) string { return c.Name })
	if len(got) != 2 || got[0] != "Kael" || got[1] != "Mira the Bold" {
		t.Fatalf("unexpected list after change %v", got)
	}
}

func TestAdventuresCreateRenameDelete(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	list := NewAdventures(d)
	if err := list.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	adv, err := list.Create(ctx, "Mistfall")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !models.ValidJoinCode(adv.SubscribeCode) {
		t.Fatalf("expected a join code, got %q", adv.SubscribeCode)
	}
	if b.Calls("Profile") != 1 {
		t.Fatalf("create should ensure the profile first")
	}
	if rows := list.List(); len(rows) != 1 || rows[0].SubscribeCode != adv.SubscribeCode {
		t.Fatalf("expected the stored row to replace the placeholder, got %+v", rows)
	}

	if err := list.BeginRename(adv.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	list.Name.Set("Mistfall Reborn")
	list.CancelRename()
	if b.Calls("UpdateAdventure") != 0 || list.Editing() != "" {
		t.Fatalf("cancel must not write")
	}
	if err := list.BeginRename(adv.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if list.Editing() != adv.ID {
		t.Fatalf("expected %s in edit mode", adv.ID)
	}
	list.Name.Set("Mistfall Reborn")
	if err := list.SaveRename(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if stored, _ := b.StoredAdventure(adv.ID); stored.Name != "Mistfall Reborn" {
		t.Fatalf("unexpected stored name %q", stored.Name)
	}

	if err := list.Delete(ctx, adv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(list.List()) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestAdventureFellowshipTheme(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	adv, fellowship := b.PutAdventure("Mistfall", "MIST", b.User.ID)

	view := NewAdventure(d, adv.ID)
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !view.IsOwner() {
		t.Fatalf("expected owner")
	}
	if err := view.LoadFellowshipTheme(ctx); err != nil {
		t.Fatalf("theme: %v", err)
	}
	ft := view.Theme()
	if ft == nil || ft.Card.Theme().Name != "Fellowship Theme" {
		t.Fatalf("expected an ensured fellowship theme, got %+v", ft)
	}
	if view.Fellowship().ID != fellowship.ID || !view.CanEdit() {
		t.Fatalf("unexpected fellowship state")
	}

	// A second load reuses the same row.
	if err := view.LoadFellowshipTheme(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if view.Theme() != ft || b.ThemeCount(models.FellowshipOwner(fellowship.ID)) != 1 {
		t.Fatalf("expected the same fellowship theme")
	}
	if b.Calls("EnsureFellowshipTheme") != 1 {
		t.Fatalf("ensure should run once, ran %d times", b.Calls("EnsureFellowshipTheme"))
	}

	if _, err := view.Quit(ctx); !errors.Is(err, ErrOwnerQuit) {
		t.Fatalf("expected ErrOwnerQuit, got %v", err)
	}
	if b.Calls("QuitAdventure") != 0 {
		t.Fatalf("owner quit must not reach the backend")
	}
}

func TestAdventureWithoutEditRights(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	adv, _ := b.PutAdventure("Mistfall", "MIST", "gm")

	view := NewAdventure(d, adv.ID)
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := view.LoadFellowshipTheme(ctx); err != nil {
		t.Fatalf("theme: %v", err)
	}
	if view.Theme() != nil || view.CanEdit() {
		t.Fatalf("outsiders get no theme")
	}
	if b.Calls("EnsureFellowshipTheme") != 0 {
		t.Fatalf("outsiders must not create the theme")
	}
}

func TestAdventureMissingDefs(t *testing.T) {
	b := remotetest.New()
	b.SeedDefs(models.DefThemeTypes, "Mythos")
	b.SeedDefs(models.DefMightLevels, models.MightOrigin)
	adv, _ := b.PutAdventure("Mistfall", "MIST", b.User.ID)

	view := NewAdventure(editor.Deps{Backend: b}, adv.ID)
	if err := view.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := view.LoadFellowshipTheme(context.Background()); !errors.Is(err, ErrMissingDefs) {
		t.Fatalf("expected ErrMissingDefs, got %v", err)
	}
	if view.ThemeErr() == nil {
		t.Fatalf("theme error must be kept")
	}
}

func TestAdventureRosterAndQuit(t *testing.T) {
	b, notices, d := newDeps(t)
	ctx := context.Background()
	adv, fellowship := b.PutAdventure("Mistfall", "MIST", "gm")
	b.SetDisplayName(b.User.ID, "Meur")
	mine := b.PutCharacter(models.Character{Name: "Mira", FellowshipID: &fellowship.ID})
	b.PutCharacter(models.Character{Name: "Kael", PlayerID: "gm", FellowshipID: &fellowship.ID})

	view := NewAdventure(d, adv.ID)
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	roster, err := view.Roster()
	if err != nil || len(roster) != 2 {
		t.Fatalf("unexpected roster %+v (%v)", roster, err)
	}
	if roster[0].CharacterName != "Mira" || roster[0].OwnerDisplayName != "Meur" || roster[1].OwnerDisplayName != "Player" {
		t.Fatalf("unexpected roster rows %+v", roster)
	}
	if view.IsOwner() {
		t.Fatalf("not the owner")
	}

	n, err := view.Quit(ctx)
	if err != nil || n != 1 {
		t.Fatalf("quit: n=%d err=%v", n, err)
	}
	if stored, _ := b.StoredCharacter(mine.ID); stored.FellowshipID != nil {
		t.Fatalf("expected character released")
	}
	if all := notices.All(); len(all) != 1 || all[0].Level != remote.LevelInfo {
		t.Fatalf("unexpected notices %+v", all)
	}
	if _, err := view.Quit(ctx); !remote.IsNotFound(err) {
		t.Fatalf("expected not found on a second quit, got %v", err)
	}
}

func TestAdventureWatch(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()
	adv, fellowship := b.PutAdventure("Mistfall", "MIST", "gm")
	view := NewAdventure(d, adv.ID)
	if err := view.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	stop, err := view.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	c := b.PutCharacter(models.Character{Name: "Mira", FellowshipID: &fellowship.ID})
	b.Emit(realtime.Change{Table: "characters", Op: realtime.OpUpdate, ID: c.ID})
	if roster, _ := view.Roster(); len(roster) != 1 {
		t.Fatalf("expected roster reload, got %+v", roster)
	}
	if !view.CanEdit() || view.Theme() == nil {
		t.Fatalf("a member should now see the fellowship theme")
	}

	stop()
	for _, table := range []string{"adventures", "fellowships", "characters", "statuses"} {
		if n := b.Subscribers(table); n != 0 {
			t.Fatalf("%s: %d subscriptions left", table, n)
		}
	}
}

func TestResolveLanding(t *testing.T) {
	b, _, d := newDeps(t)
	ctx := context.Background()

	id, err := ResolveLanding(ctx, b)
	if err != nil || id != "" {
		t.Fatalf("expected no landing character, got %q (%v)", id, err)
	}

	first := b.PutCharacter(models.Character{Name: "First"})
	latest := b.PutCharacter(models.Character{Name: "Latest"})
	if id, _ := ResolveLanding(ctx, b); id != latest.ID {
		t.Fatalf("expected the latest character, got %q", id)
	}

	p := editor.NewProfile(d)
	if err := p.Load(ctx); err != nil {
		t.Fatalf("profile: %v", err)
	}
	if err := p.SetActiveCharacter(ctx, first.ID); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if id, _ := ResolveLanding(ctx, b); id != first.ID {
		t.Fatalf("expected the active character, got %q", id)
	}
}
