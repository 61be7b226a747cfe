// Package client talks to the mistbook API over HTTP and its change feed over
// a websocket. Client implements remote.Backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/session"
)

var _ remote.Backend = (*Client)(nil)

// Options tunes a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client is a remote.Backend over the REST API. The bearer token comes from
// the session holder, which Login, SignUp, Restore and SignOut keep current.
type Client struct {
	base       string
	httpClient *http.Client
	dialer     *websocket.Dialer
	session    *session.Holder
	log        *slog.Logger

	mu           sync.Mutex
	conn         *conn
	topics       map[string]*topic
	pending      map[string]chan error
	reconnecting bool
	closed       bool
	stopped      chan struct{}
	cancel       func()
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, holder *session.Holder, opts Options) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
		dialer:     opts.Dialer,
		session:    holder,
		log:        opts.Logger,
		topics:     make(map[string]*topic),
		pending:    make(map[string]chan error),
		stopped:    make(chan struct{}),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	// Subscriptions belong to the player who opened them.
	c.cancel = holder.OnChange(func(*session.Session) { c.dropFeed() })
	return c
}

// Close shuts the change feed and stops following the session.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.stopped)
	}
	c.mu.Unlock()
	c.dropFeed()
}

func (c *Client) request(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(payload))
	if json.Unmarshal(payload, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &remote.Error{Status: resp.StatusCode, Message: msg}
}

func esc(s string) string { return url.PathEscape(s) }

// --- Session ---

// SignUp creates an account and signs it in.
func (c *Client) SignUp(ctx context.Context, creds models.Credentials) (*models.User, error) {
	return c.authenticate(ctx, "/auth/signup", creds)
}

// Login signs in with an email and password.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (*models.User, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds models.Credentials) (*models.User, error) {
	var res models.AuthResult
	if err := c.request(ctx, http.MethodPost, path, creds, &res); err != nil {
		return nil, err
	}
	c.session.Set(&session.Session{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User})
	return &res.User, nil
}

// Restore resumes a saved token. The holder is only set when the server still
// accepts it.
func (c *Client) Restore(ctx context.Context, token string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/auth/session", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	var res struct {
		User      models.User `json:"user"`
		ExpiresAt time.Time   `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	c.session.Set(&session.Session{Token: token, ExpiresAt: res.ExpiresAt, User: res.User})
	return &res.User, nil
}

func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.request(ctx, http.MethodGet, "/auth/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignOut ends the session on the server and clears the holder. The holder is
// cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.request(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.session.Clear()
	return err
}

// --- Profile ---

func (c *Client) Profile(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.request(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, req models.ProfileUpdate) (*models.Profile, error) {
	var p models.Profile
	if err := c.request(ctx, http.MethodPatch, "/profile", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Characters ---

func (c *Client) Characters(ctx context.Context, limit int) ([]models.Character, error) {
	path := "/characters"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var list []models.Character
	if err := c.request(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) LatestCharacter(ctx context.Context) (*models.Character, error) {
	var ch *models.Character
	if err := c.request(ctx, http.MethodGet, "/characters/latest", nil, &ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) Character(ctx context.Context, id string) (*models.Character, error) {
	var ch models.Character
	if err := c.request(ctx, http.MethodGet, "/characters/"+esc(id), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) CreateCharacter(ctx context.Context, req models.CharacterCreate) (*models.Character, error) {
	var ch models.Character
	if err := c.request(ctx, http.MethodPost, "/characters", req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) UpdateCharacter(ctx context.Context, id string, req models.CharacterUpdate) (*models.Character, error) {
	var ch models.Character
	if err := c.request(ctx, http.MethodPatch, "/characters/"+esc(id), req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) DeleteCharacter(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/characters/"+esc(id), nil, nil)
}

func (c *Client) Quintessences(ctx context.Context, characterID string) ([]models.Quintessence, error) {
	var list []models.Quintessence
	if err := c.request(ctx, http.MethodGet, "/characters/"+esc(characterID)+"/quintessences", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) AddQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	return c.request(ctx, http.MethodPut, "/characters/"+esc(characterID)+"/quintessences/"+esc(quintessenceID), nil, nil)
}

func (c *Client) RemoveQuintessence(ctx context.Context, characterID, quintessenceID string) error {
	return c.request(ctx, http.MethodDelete, "/characters/"+esc(characterID)+"/quintessences/"+esc(quintessenceID), nil, nil)
}

// --- Themes ---

func ownerQuery(o models.Owner) string {
	return url.Values{string(o.Kind) + "_id": {o.ID}}.Encode()
}

func (c *Client) Themes(ctx context.Context, owner models.Owner) ([]models.Theme, error) {
	var list []models.Theme
	if err := c.request(ctx, http.MethodGet, "/themes?"+ownerQuery(owner), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateTheme(ctx context.Context, req models.ThemeCreate) (*models.Theme, error) {
	var t models.Theme
	if err := c.request(ctx, http.MethodPost, "/themes", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateTheme(ctx context.Context, id string, req models.ThemeUpdate) (*models.Theme, error) {
	var t models.Theme
	if err := c.request(ctx, http.MethodPatch, "/themes/"+esc(id), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTheme(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/themes/"+esc(id), nil, nil)
}

func (c *Client) FellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	var t *models.Theme
	if err := c.request(ctx, http.MethodGet, "/fellowships/"+esc(fellowshipID)+"/theme", nil, &t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Client) EnsureFellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error) {
	var t models.Theme
	if err := c.request(ctx, http.MethodPost, "/fellowships/"+esc(fellowshipID)+"/theme", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Tags ---

func tagValues(q models.TagQuery) url.Values {
	v := url.Values{}
	if q.CharacterID != "" {
		v.Set("character_id", q.CharacterID)
	}
	if q.FellowshipID != "" {
		v.Set("fellowship_id", q.FellowshipID)
	}
	for _, id := range q.ThemeIDs {
		v.Add("theme_id", id)
	}
	for _, t := range q.Types {
		v.Add("type", string(t))
	}
	if q.WithoutTheme {
		v.Set("no_theme", "1")
	}
	return v
}

func (c *Client) Tags(ctx context.Context, q models.TagQuery) ([]models.Tag, error) {
	var list []models.Tag
	if err := c.request(ctx, http.MethodGet, "/tags?"+tagValues(q).Encode(), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateTag(ctx context.Context, req models.TagCreate) (*models.Tag, error) {
	var t models.Tag
	if err := c.request(ctx, http.MethodPost, "/tags", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateTag(ctx context.Context, id string, req models.TagUpdate) (*models.Tag, error) {
	var t models.Tag
	if err := c.request(ctx, http.MethodPatch, "/tags/"+esc(id), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTag(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/tags/"+esc(id), nil, nil)
}

// --- Statuses ---

func (c *Client) Statuses(ctx context.Context, owner models.Owner) ([]models.Status, error) {
	var list []models.Status
	if err := c.request(ctx, http.MethodGet, "/statuses?"+ownerQuery(owner), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateStatus(ctx context.Context, req models.StatusCreate) (*models.Status, error) {
	var s models.Status
	if err := c.request(ctx, http.MethodPost, "/statuses", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, req models.StatusUpdate) (*models.Status, error) {
	var s models.Status
	if err := c.request(ctx, http.MethodPatch, "/statuses/"+esc(id), req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteStatus(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/statuses/"+esc(id), nil, nil)
}

// --- Adventures ---

func (c *Client) Adventures(ctx context.Context) ([]models.Adventure, error) {
	var list []models.Adventure
	if err := c.request(ctx, http.MethodGet, "/adventures", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Adventure(ctx context.Context, id string) (*models.Adventure, error) {
	var a models.Adventure
	if err := c.request(ctx, http.MethodGet, "/adventures/"+esc(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CreateAdventure(ctx context.Context, req models.AdventureCreate) (*models.Adventure, error) {
	var a models.Adventure
	if err := c.request(ctx, http.MethodPost, "/adventures", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) UpdateAdventure(ctx context.Context, id string, req models.AdventureUpdate) (*models.Adventure, error) {
	var a models.Adventure
	if err := c.request(ctx, http.MethodPatch, "/adventures/"+esc(id), req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteAdventure(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/adventures/"+esc(id), nil, nil)
}

func (c *Client) QuitAdventure(ctx context.Context, adventureID string) (int, error) {
	var res struct {
		Released int `json:"released"`
	}
	if err := c.request(ctx, http.MethodPost, "/adventures/"+esc(adventureID)+"/quit", nil, &res); err != nil {
		return 0, err
	}
	return res.Released, nil
}

func (c *Client) AdventureFellowship(ctx context.Context, adventureID string) (*models.Fellowship, error) {
	var f models.Fellowship
	if err := c.request(ctx, http.MethodGet, "/adventures/"+esc(adventureID)+"/fellowship", nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) Fellowship(ctx context.Context, id string) (*models.Fellowship, error) {
	var f models.Fellowship
	if err := c.request(ctx, http.MethodGet, "/fellowships/"+esc(id), nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) CanEditFellowship(ctx context.Context, fellowshipID string) (bool, error) {
	var res struct {
		CanEdit bool `json:"can_edit"`
	}
	if err := c.request(ctx, http.MethodGet, "/fellowships/"+esc(fellowshipID)+"/can-edit", nil, &res); err != nil {
		return false, err
	}
	return res.CanEdit, nil
}

// --- Definitions ---

func (c *Client) Defs(ctx context.Context, kind models.DefKind) ([]models.Def, error) {
	var list []models.Def
	if err := c.request(ctx, http.MethodGet, "/defs/"+esc(string(kind)), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) DefByName(ctx context.Context, kind models.DefKind, name string) (*models.Def, error) {
	var d models.Def
	if err := c.request(ctx, http.MethodGet, "/defs/"+esc(string(kind))+"/by-name/"+esc(name), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Procedures ---

func (c *Client) JoinFellowshipByCode(ctx context.Context, req models.JoinRequest) (*models.JoinedAdventure, error) {
	var j models.JoinedAdventure
	if err := c.request(ctx, http.MethodPost, "/rpc/join_fellowship_by_code", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (c *Client) AdventureRoster(ctx context.Context, adventureID string) ([]models.RosterEntry, error) {
	var list []models.RosterEntry
	body := map[string]string{"adventure_id": adventureID}
	if err := c.request(ctx, http.MethodPost, "/rpc/adventure_roster_with_brief", body, &list); err != nil {
		return nil, err
	}
	return list, nil
}
