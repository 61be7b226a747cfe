package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meur/mistbook/internal/auth"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
	"github.com/meur/mistbook/internal/storage"
)

type testEnv struct {
	srv   *httptest.Server
	store *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	broker := realtime.NewBroker(16)
	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"), broker)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	ctx := context.Background()
	store.SeedDefs(ctx, models.DefMightLevels, []string{models.MightOrigin, models.MightAdventure, models.MightGreatness})
	store.SeedDefs(ctx, models.DefThemeTypes, []string{"Mythos", models.ThemeTypeFellow})

	svc := auth.NewService(store, "test-secret", time.Hour)
	srv := httptest.NewServer(New(store, svc, broker, Options{AllowedOrigins: []string{"http://localhost:*"}}))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})
	return &testEnv{srv: srv, store: store}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) signUp(t *testing.T, email string) (string, models.User) {
	t.Helper()
	var res models.AuthResult
	status := e.do(t, "POST", "/api/auth/signup", "", models.Credentials{Email: email, Password: "hunter22"}, &res)
	if status != http.StatusCreated {
		t.Fatalf("signup status = %d", status)
	}
	return res.Token, res.User
}

func (e *testEnv) defID(t *testing.T, kind models.DefKind, name string) string {
	t.Helper()
	d, err := e.store.DefByName(context.Background(), kind, name)
	if err != nil {
		t.Fatalf("def %s: %v", name, err)
	}
	return d.ID
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)

	if status := e.do(t, "GET", "/api/auth/user", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous user = %d", status)
	}

	token, user := e.signUp(t, "wren@example.com")
	var got models.User
	if status := e.do(t, "GET", "/api/auth/user", token, nil, &got); status != http.StatusOK || got.ID != user.ID {
		t.Fatalf("user = %d %+v", status, got)
	}

	var profile models.Profile
	if status := e.do(t, "GET", "/api/profile", token, nil, &profile); status != http.StatusOK || profile.DisplayName != "wren" {
		t.Fatalf("profile = %d %+v", status, profile)
	}

	var errBody map[string]string
	status := e.do(t, "POST", "/api/auth/login", "", models.Credentials{Email: "wren@example.com", Password: "nope-nope"}, &errBody)
	if status != http.StatusUnauthorized || errBody["error"] != auth.ErrInvalidCredentials.Error() {
		t.Fatalf("bad login = %d %v", status, errBody)
	}
	if status := e.do(t, "POST", "/api/auth/signup", "", models.Credentials{Email: "wren@example.com", Password: "hunter22"}, nil); status != http.StatusConflict {
		t.Fatalf("duplicate signup = %d", status)
	}

	if status := e.do(t, "POST", "/api/auth/logout", token, nil, nil); status != http.StatusOK {
		t.Fatalf("logout = %d", status)
	}
	if status := e.do(t, "GET", "/api/auth/session", token, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("session after logout = %d", status)
	}
}

func TestCharacterOwnership(t *testing.T) {
	e := newTestEnv(t)
	ann, _ := e.signUp(t, "ann@example.com")
	bob, _ := e.signUp(t, "bob@example.com")

	var c models.Character
	if status := e.do(t, "POST", "/api/characters", ann, models.CharacterCreate{Name: "Wren"}, &c); status != http.StatusCreated {
		t.Fatalf("create = %d", status)
	}
	if status := e.do(t, "POST", "/api/characters", ann, models.CharacterCreate{Name: " "}, nil); status != http.StatusBadRequest {
		t.Fatalf("blank name = %d", status)
	}

	if status := e.do(t, "GET", "/api/characters/"+c.ID, bob, nil, nil); status != http.StatusForbidden {
		t.Fatalf("foreign read = %d", status)
	}
	name := "Stolen"
	if status := e.do(t, "PATCH", "/api/characters/"+c.ID, bob, models.CharacterUpdate{Name: &name}, nil); status != http.StatusForbidden {
		t.Fatalf("foreign patch = %d", status)
	}

	var latest *models.Character
	if status := e.do(t, "GET", "/api/characters/latest", bob, nil, &latest); status != http.StatusOK || latest != nil {
		t.Fatalf("bob latest = %d %+v", status, latest)
	}
	if status := e.do(t, "GET", "/api/characters/latest", ann, nil, &latest); status != http.StatusOK || latest == nil || latest.ID != c.ID {
		t.Fatalf("ann latest = %d %+v", status, latest)
	}

	promise := 3
	var updated models.Character
	if status := e.do(t, "PATCH", "/api/characters/"+c.ID, ann, models.CharacterUpdate{Promise: &promise}, &updated); status != http.StatusOK || updated.Promise != 3 {
		t.Fatalf("patch = %d %+v", status, updated)
	}

	if status := e.do(t, "DELETE", "/api/characters/"+c.ID, ann, nil, nil); status != http.StatusOK {
		t.Fatalf("delete = %d", status)
	}
	var list []models.Character
	if status := e.do(t, "GET", "/api/characters", ann, nil, &list); status != http.StatusOK || len(list) != 0 {
		t.Fatalf("list after delete = %d %+v", status, list)
	}
}

func TestThemeLimitAndTags(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signUp(t, "ann@example.com")
	var c models.Character
	e.do(t, "POST", "/api/characters", token, models.CharacterCreate{Name: "Wren"}, &c)

	might := e.defID(t, models.DefMightLevels, models.MightOrigin)
	typ := e.defID(t, models.DefThemeTypes, "Mythos")
	var first models.Theme
	for i, name := range []string{"A", "B", "C", "D"} {
		var th models.Theme
		req := models.ThemeCreate{Owner: models.CharacterOwner(c.ID), Name: name, TypeID: typ, MightLevelID: might}
		if status := e.do(t, "POST", "/api/themes", token, req, &th); status != http.StatusCreated {
			t.Fatalf("create theme %s = %d", name, status)
		}
		if i == 0 {
			first = th
		}
	}
	var errBody map[string]string
	req := models.ThemeCreate{Owner: models.CharacterOwner(c.ID), Name: "E", TypeID: typ, MightLevelID: might}
	if status := e.do(t, "POST", "/api/themes", token, req, &errBody); status != http.StatusConflict || errBody["error"] != models.ErrThemeLimit.Error() {
		t.Fatalf("fifth theme = %d %v", status, errBody)
	}

	tags := []models.TagCreate{
		{ID: "11111111-1111-1111-1111-111111111111", Owner: models.ThemeOwner(first.ID), Name: "Iron Grip", Type: models.TagPower},
		{Owner: models.ThemeOwner(first.ID), Name: "Old wound", Type: models.TagWeakness},
		{Owner: models.CharacterOwner(c.ID), Name: "rope", Type: models.TagStory},
	}
	for _, tc := range tags {
		if status := e.do(t, "POST", "/api/tags", token, tc, nil); status != http.StatusCreated {
			t.Fatalf("create tag %s = %d", tc.Name, status)
		}
	}

	var power []models.Tag
	e.do(t, "GET", "/api/tags?theme_id="+first.ID+"&type=Power", token, nil, &power)
	if len(power) != 1 || power[0].ID != tags[0].ID || power[0].IsScratched {
		t.Fatalf("power tags = %+v", power)
	}

	var backpack []models.Tag
	e.do(t, "GET", "/api/tags?character_id="+c.ID+"&no_theme=1&type=Story&type=Single-Use", token, nil, &backpack)
	if len(backpack) != 1 || backpack[0].Name != "rope" {
		t.Fatalf("backpack = %+v", backpack)
	}

	if status := e.do(t, "GET", "/api/tags?type=Power", token, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("ownerless tag query = %d", status)
	}
	if status := e.do(t, "POST", "/api/tags", token, tags[0], nil); status != http.StatusConflict {
		t.Fatalf("duplicate client id = %d", status)
	}

	other, _ := e.signUp(t, "bob@example.com")
	if status := e.do(t, "GET", "/api/tags?theme_id="+first.ID, other, nil, nil); status != http.StatusForbidden {
		t.Fatalf("foreign tag read = %d", status)
	}
}

func TestJoinRosterAndFellowshipTheme(t *testing.T) {
	e := newTestEnv(t)
	gm, _ := e.signUp(t, "gm@example.com")
	player, _ := e.signUp(t, "pip@example.com")
	outsider, _ := e.signUp(t, "out@example.com")

	var adv models.Adventure
	if status := e.do(t, "POST", "/api/adventures", gm, models.AdventureCreate{Name: "Bell"}, &adv); status != http.StatusCreated {
		t.Fatalf("create adventure = %d", status)
	}
	var c models.Character
	e.do(t, "POST", "/api/characters", player, models.CharacterCreate{Name: "Wren"}, &c)

	if status := e.do(t, "POST", "/api/rpc/join_fellowship_by_code", player, models.JoinRequest{JoinCode: "ab1", CharacterID: c.ID}, nil); status != http.StatusBadRequest {
		t.Fatalf("malformed code = %d", status)
	}
	unknown := "QQQQ"
	if adv.SubscribeCode == unknown {
		unknown = "WWWW"
	}
	if status := e.do(t, "POST", "/api/rpc/join_fellowship_by_code", player, models.JoinRequest{JoinCode: unknown, CharacterID: c.ID}, nil); status != http.StatusNotFound {
		t.Fatalf("unknown code = %d", status)
	}

	var joined models.JoinedAdventure
	status := e.do(t, "POST", "/api/rpc/join_fellowship_by_code", player,
		models.JoinRequest{JoinCode: strings.ToLower(adv.SubscribeCode), CharacterID: c.ID}, &joined)
	if status != http.StatusOK || joined.ID != adv.ID {
		t.Fatalf("join = %d %+v", status, joined)
	}

	var roster []models.RosterEntry
	e.do(t, "POST", "/api/rpc/adventure_roster_with_brief", outsider, map[string]string{"adventure_id": adv.ID}, &roster)
	if len(roster) != 1 || roster[0].CharacterID != c.ID || roster[0].OwnerDisplayName != "pip" {
		t.Fatalf("roster = %+v", roster)
	}

	var canEdit map[string]bool
	e.do(t, "GET", "/api/fellowships/"+joined.FellowshipID+"/can-edit", outsider, nil, &canEdit)
	if canEdit["can_edit"] {
		t.Fatal("outsider should not edit the fellowship")
	}
	if status := e.do(t, "POST", "/api/fellowships/"+joined.FellowshipID+"/theme", outsider, nil, nil); status != http.StatusForbidden {
		t.Fatalf("outsider ensure = %d", status)
	}

	var none *models.Theme
	e.do(t, "GET", "/api/fellowships/"+joined.FellowshipID+"/theme", player, nil, &none)
	if none != nil {
		t.Fatalf("theme before ensure = %+v", none)
	}
	var a, b models.Theme
	e.do(t, "POST", "/api/fellowships/"+joined.FellowshipID+"/theme", player, nil, &a)
	e.do(t, "POST", "/api/fellowships/"+joined.FellowshipID+"/theme", gm, nil, &b)
	if a.ID == "" || a.ID != b.ID {
		t.Fatalf("ensure returned %q and %q", a.ID, b.ID)
	}

	if status := e.do(t, "POST", "/api/adventures/"+adv.ID+"/quit", gm, nil, nil); status != http.StatusConflict {
		t.Fatalf("owner quit = %d", status)
	}
	var released map[string]int
	if status := e.do(t, "POST", "/api/adventures/"+adv.ID+"/quit", player, nil, &released); status != http.StatusOK || released["released"] != 1 {
		t.Fatalf("quit = %d %v", status, released)
	}

	newName := "Renamed"
	if status := e.do(t, "PATCH", "/api/adventures/"+adv.ID, player, models.AdventureUpdate{Name: &newName}, nil); status != http.StatusForbidden {
		t.Fatalf("non-owner rename = %d", status)
	}
}

func TestStatusesAndDefs(t *testing.T) {
	e := newTestEnv(t)
	token, _ := e.signUp(t, "ann@example.com")
	var c models.Character
	e.do(t, "POST", "/api/characters", token, models.CharacterCreate{Name: "Wren"}, &c)

	var st models.Status
	if status := e.do(t, "POST", "/api/statuses", token, models.StatusCreate{Owner: models.CharacterOwner(c.ID), Name: "bruised"}, &st); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	up, _ := models.TierUpdate(4, true)
	var got models.Status
	e.do(t, "PATCH", "/api/statuses/"+st.ID, token, up, &got)
	if !got.Tier4 || got.HighestTier() != 4 {
		t.Fatalf("status = %+v", got)
	}

	var list []models.Status
	e.do(t, "GET", "/api/statuses?character_id="+c.ID, token, nil, &list)
	if len(list) != 1 {
		t.Fatalf("statuses = %+v", list)
	}

	var defs []models.Def
	if status := e.do(t, "GET", "/api/defs/might-levels", token, nil, &defs); status != http.StatusOK || len(defs) != 3 {
		t.Fatalf("defs = %d %+v", status, defs)
	}
	var def models.Def
	if status := e.do(t, "GET", "/api/defs/theme-types/by-name/Fellowship", token, nil, &def); status != http.StatusOK || def.Name != "Fellowship" {
		t.Fatalf("def by name = %d %+v", status, def)
	}
	if status := e.do(t, "GET", "/api/defs/spells", token, nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown defs = %d", status)
	}
}

func TestRealtimeFeed(t *testing.T) {
	e := newTestEnv(t)
	token, user := e.signUp(t, "ann@example.com")

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/realtime?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	sub := realtime.ClientMessage{
		Op:     realtime.ClientSubscribe,
		Topic:  "mine",
		Table:  "characters",
		Filter: realtime.Eq("player_id", user.ID).String(),
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var ack realtime.ServerMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Status != realtime.StatusSubscribed {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	var c models.Character
	e.do(t, "POST", "/api/characters", token, models.CharacterCreate{Name: "Wren"}, &c)

	var msg realtime.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if msg.Topic != "mine" || msg.Event != realtime.OpInsert || msg.ID != c.ID {
		t.Fatalf("change = %+v", msg)
	}

	if err := conn.WriteJSON(realtime.ClientMessage{Op: realtime.ClientSubscribe, Topic: "bad", Table: "tags", Filter: "theme_id"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Topic != "bad" || msg.Error == "" {
		t.Fatalf("bad filter reply = %+v, %v", msg, err)
	}
}

func TestRealtimeRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/realtime"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
