package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/meur/mistbook/internal/api"
	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/session"
	"github.com/meur/mistbook/internal/storage"
)

type testServer struct {
	url   string
	store *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	broker := realtime.NewBroker(16)
	store, err := storage.New(filepath.Join(t.TempDir(), "client.db"), broker)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	ctx := context.Background()
	store.SeedDefs(ctx, models.DefMightLevels, []string{models.MightOrigin, models.MightAdventure, models.MightGreatness})
	store.SeedDefs(ctx, models.DefThemeTypes, []string{"Mythos", models.ThemeTypeFellow})
	store.SeedDefs(ctx, models.DefQuintessences, []string{"Courage"})

	srv := httptest.NewServer(api.New(store, auth.NewService(store, "test-secret", time.Hour), broker, api.Options{}))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return &testServer{url: srv.URL, store: store}
}

// signedIn returns a client for a freshly signed-up player.
func (s *testServer) signedIn(t *testing.T, email string) (*Client, *session.Holder) {
	t.Helper()
	holder := &session.Holder{}
	c := New(s.url, holder, Options{})
	t.Cleanup(c.Close)
	if _, err := c.SignUp(context.Background(), models.Credentials{Email: email, Password: "hunter22"}); err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	return c, holder
}

func (s *testServer) def(t *testing.T, kind models.DefKind, name string) string {
	t.Helper()
	d, err := s.store.DefByName(context.Background(), kind, name)
	if err != nil {
		t.Fatalf("def %s: %v", name, err)
	}
	return d.ID
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c, holder := srv.signedIn(t, "wren@example.com")

	if holder.Current() == nil || holder.Token() == "" {
		t.Fatal("signup should populate the session holder")
	}
	u, err := c.CurrentUser(ctx)
	if err != nil || u.Email != "wren@example.com" {
		t.Fatalf("current user = %+v, %v", u, err)
	}
	token := holder.Token()

	// A second process resumes the saved token.
	other := &session.Holder{}
	restored := New(srv.url, other, Options{})
	defer restored.Close()
	if _, err := restored.Restore(ctx, token); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if other.Token() != token {
		t.Fatal("restore should set the holder")
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if holder.Current() != nil {
		t.Fatal("sign out should clear the holder")
	}
	if _, err := restored.CurrentUser(ctx); !remote.IsUnauthorized(err) {
		t.Fatalf("revoked token: %v", err)
	}

	fresh := &session.Holder{}
	again := New(srv.url, fresh, Options{})
	defer again.Close()
	if _, err := again.Restore(ctx, token); !remote.IsUnauthorized(err) {
		t.Fatalf("restore revoked token: %v", err)
	}
	if fresh.Current() != nil {
		t.Fatal("failed restore must leave the holder empty")
	}
}

func TestErrorsCarryServerMessage(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c, _ := srv.signedIn(t, "ash@example.com")

	if _, err := c.Character(ctx, "missing"); !remote.IsNotFound(err) {
		t.Fatalf("missing character: %v", err)
	}

	latest, err := c.LatestCharacter(ctx)
	if err != nil || latest != nil {
		t.Fatalf("latest with no characters = %+v, %v", latest, err)
	}

	ch, err := c.CreateCharacter(ctx, models.CharacterCreate{Name: "Ash"})
	if err != nil {
		t.Fatalf("create character: %v", err)
	}
	typeID := srv.def(t, models.DefThemeTypes, "Mythos")
	mightID := srv.def(t, models.DefMightLevels, models.MightOrigin)
	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := c.CreateTheme(ctx, models.ThemeCreate{
			Owner: models.CharacterOwner(ch.ID), Name: name, TypeID: typeID, MightLevelID: mightID,
		})
		if err != nil {
			t.Fatalf("theme %s: %v", name, err)
		}
	}
	_, err = c.CreateTheme(ctx, models.ThemeCreate{
		Owner: models.CharacterOwner(ch.ID), Name: "E", TypeID: typeID, MightLevelID: mightID,
	})
	var rerr *remote.Error
	if !errors.As(err, &rerr) || !remote.IsConflict(err) {
		t.Fatalf("fifth theme: %v", err)
	}
	if rerr.Message != models.ErrThemeLimit.Error() {
		t.Fatalf("fifth theme message = %q", rerr.Message)
	}

	themes, err := c.Themes(ctx, models.CharacterOwner(ch.ID))
	if err != nil || len(themes) != 4 || themes[0].Name != "A" {
		t.Fatalf("themes = %+v, %v", themes, err)
	}
}

func TestTagQueryRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c, _ := srv.signedIn(t, "fen@example.com")

	ch, _ := c.CreateCharacter(ctx, models.CharacterCreate{Name: "Fen"})
	theme, err := c.CreateTheme(ctx, models.ThemeCreate{
		Owner:        models.CharacterOwner(ch.ID),
		Name:         "Wanderer",
		TypeID:       srv.def(t, models.DefThemeTypes, "Mythos"),
		MightLevelID: srv.def(t, models.DefMightLevels, models.MightOrigin),
	})
	if err != nil {
		t.Fatalf("theme: %v", err)
	}

	for _, req := range []models.TagCreate{
		{Owner: models.ThemeOwner(theme.ID), Name: "Iron Grip", Type: models.TagPower},
		{Owner: models.ThemeOwner(theme.ID), Name: "Cowardly", Type: models.TagWeakness},
		{Owner: models.CharacterOwner(ch.ID), Name: "Rope", Type: models.TagStory},
		{Owner: models.CharacterOwner(ch.ID), Name: "Potion", Type: models.TagSingleUse},
	} {
		if _, err := c.CreateTag(ctx, req); err != nil {
			t.Fatalf("tag %s: %v", req.Name, err)
		}
	}

	power, err := c.Tags(ctx, models.TagQuery{ThemeIDs: []string{theme.ID}, Types: []models.TagType{models.TagPower}})
	if err != nil || len(power) != 1 || power[0].Name != "Iron Grip" {
		t.Fatalf("power tags = %+v, %v", power, err)
	}
	backpack, err := c.Tags(ctx, models.TagQuery{
		CharacterID:  ch.ID,
		WithoutTheme: true,
		Types:        []models.TagType{models.TagStory, models.TagSingleUse},
	})
	if err != nil || len(backpack) != 2 {
		t.Fatalf("backpack = %+v, %v", backpack, err)
	}

	weak := power[0]
	for _, tag := range mustTags(t, c, theme.ID) {
		if tag.Type == models.TagWeakness {
			weak = tag
		}
	}
	scratch := true
	if _, err := c.UpdateTag(ctx, weak.ID, models.TagUpdate{IsScratched: &scratch}); err == nil {
		t.Fatal("scratching a weakness should fail")
	}
}

func mustTags(t *testing.T, c *Client, themeID string) []models.Tag {
	t.Helper()
	tags, err := c.Tags(context.Background(), models.TagQuery{ThemeIDs: []string{themeID}})
	if err != nil {
		t.Fatalf("tags: %v", err)
	}
	return tags
}

func TestJoinRosterAndQuit(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	gm, _ := srv.signedIn(t, "gm@example.com")
	player, _ := srv.signedIn(t, "player@example.com")

	adv, err := gm.CreateAdventure(ctx, models.AdventureCreate{Name: "Mist Road"})
	if err != nil {
		t.Fatalf("create adventure: %v", err)
	}
	ch, _ := player.CreateCharacter(ctx, models.CharacterCreate{Name: "Rook"})

	joined, err := player.JoinFellowshipByCode(ctx, models.JoinRequest{JoinCode: adv.SubscribeCode, CharacterID: ch.ID})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.ID != adv.ID || joined.FellowshipID == "" {
		t.Fatalf("joined = %+v", joined)
	}

	f, err := player.Fellowship(ctx, joined.FellowshipID)
	if err != nil || f.AdventureID != adv.ID {
		t.Fatalf("fellowship = %+v, %v", f, err)
	}
	if ok, err := player.CanEditFellowship(ctx, f.ID); err != nil || !ok {
		t.Fatalf("member can edit = %v, %v", ok, err)
	}

	theme, err := gm.EnsureFellowshipTheme(ctx, f.ID)
	if err != nil {
		t.Fatalf("ensure theme: %v", err)
	}
	got, err := player.FellowshipTheme(ctx, f.ID)
	if err != nil || got == nil || got.ID != theme.ID {
		t.Fatalf("fellowship theme = %+v, %v", got, err)
	}

	roster, err := gm.AdventureRoster(ctx, adv.ID)
	if err != nil || len(roster) != 1 || roster[0].CharacterID != ch.ID {
		t.Fatalf("roster = %+v, %v", roster, err)
	}

	if _, err := gm.QuitAdventure(ctx, adv.ID); !remote.IsConflict(err) {
		t.Fatalf("owner quit: %v", err)
	}
	n, err := player.QuitAdventure(ctx, adv.ID)
	if err != nil || n != 1 {
		t.Fatalf("quit = %d, %v", n, err)
	}
	after, _ := player.Character(ctx, ch.ID)
	if after.Enrolled() {
		t.Fatal("character should be released")
	}
}

func TestSubscribeDeliversChanges(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c, holder := srv.signedIn(t, "kit@example.com")
	userID := holder.Current().User.ID

	got := make(chan realtime.Change, 4)
	unsubscribe, err := c.Subscribe(ctx, "characters", realtime.Eq("player_id", userID), func(ch realtime.Change) {
		got <- ch
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	created, err := c.CreateCharacter(ctx, models.CharacterCreate{Name: "Kit"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case ch := <-got:
		if ch.Table != "characters" || ch.Op != realtime.OpInsert || ch.ID != created.ID {
			t.Fatalf("change = %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	unsubscribe()
	unsubscribe()
	if _, err := c.CreateCharacter(ctx, models.CharacterCreate{Name: "Kit II"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case ch := <-got:
		t.Fatalf("change after unsubscribe: %+v", ch)
	case <-time.After(200 * time.Millisecond):
	}

	if _, err := c.Subscribe(ctx, "", realtime.Filter{}, func(realtime.Change) {}); err == nil {
		t.Fatal("subscribing without a table should be rejected")
	}
}

func TestSessionChangeDropsFeed(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	c, holder := srv.signedIn(t, "lin@example.com")

	if _, err := c.Subscribe(ctx, "adventures", realtime.Filter{}, func(realtime.Change) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	holder.Clear()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil || len(c.topics) != 0 {
		t.Fatal("signing out should close the feed")
	}
}

func TestSubscribeWithoutSession(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.url, &session.Holder{}, Options{})
	defer c.Close()

	_, err := c.Subscribe(context.Background(), "characters", realtime.Filter{}, func(realtime.Change) {})
	if !remote.IsUnauthorized(err) {
		t.Fatalf("anonymous subscribe: %v", err)
	}
}
