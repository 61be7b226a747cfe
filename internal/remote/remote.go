// Package remote defines the backend every client view-model talks to. The
// HTTP implementation lives in internal/client; remotetest provides an
// in-memory one for tests.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

// Backend is the managed store as seen from the client: row reads and writes,
// the two procedures, and change subscriptions.
type Backend interface {
	CurrentUser(ctx context.Context) (*models.User, error)
	SignOut(ctx context.Context) error

	Profile(ctx context.Context) (*models.Profile, error)
	UpdateProfile(ctx context.Context, req models.ProfileUpdate) (*models.Profile, error)

	Characters(ctx context.Context, limit int) ([]models.Character, error)
	// LatestCharacter returns nil without error when the player has none.
	LatestCharacter(ctx context.Context) (*models.Character, error)
	Character(ctx context.Context, id string) (*models.Character, error)
	CreateCharacter(ctx context.Context, req models.CharacterCreate) (*models.Character, error)
	UpdateCharacter(ctx context.Context, id string, req models.CharacterUpdate) (*models.Character, error)
	DeleteCharacter(ctx context.Context, id string) error
	Quintessences(ctx context.Context, characterID string) ([]models.Quintessence, error)
	AddQuintessence(ctx context.Context, characterID, quintessenceID string) error
	RemoveQuintessence(ctx context.Context, characterID, quintessenceID string) error

	Themes(ctx context.Context, owner models.Owner) ([]models.Theme, error)
	CreateTheme(ctx context.Context, req models.ThemeCreate) (*models.Theme, error)
	UpdateTheme(ctx context.Context, id string, req models.ThemeUpdate) (*models.Theme, error)
	DeleteTheme(ctx context.Context, id string) error
	// FellowshipTheme returns nil without error when the fellowship has none.
	FellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error)
	EnsureFellowshipTheme(ctx context.Context, fellowshipID string) (*models.Theme, error)

	Tags(ctx context.Context, q models.TagQuery) ([]models.Tag, error)
	CreateTag(ctx context.Context, req models.TagCreate) (*models.Tag, error)
	UpdateTag(ctx context.Context, id string, req models.TagUpdate) (*models.Tag, error)
	DeleteTag(ctx context.Context, id string) error

	Statuses(ctx context.Context, owner models.Owner) ([]models.Status, error)
	CreateStatus(ctx context.Context, req models.StatusCreate) (*models.Status, error)
	UpdateStatus(ctx context.Context, id string, req models.StatusUpdate) (*models.Status, error)
	DeleteStatus(ctx context.Context, id string) error

	Adventures(ctx context.Context) ([]models.Adventure, error)
	Adventure(ctx context.Context, id string) (*models.Adventure, error)
	CreateAdventure(ctx context.Context, req models.AdventureCreate) (*models.Adventure, error)
	UpdateAdventure(ctx context.Context, id string, req models.AdventureUpdate) (*models.Adventure, error)
	DeleteAdventure(ctx context.Context, id string) error
	QuitAdventure(ctx context.Context, adventureID string) (int, error)

	AdventureFellowship(ctx context.Context, adventureID string) (*models.Fellowship, error)
	Fellowship(ctx context.Context, id string) (*models.Fellowship, error)
	CanEditFellowship(ctx context.Context, fellowshipID string) (bool, error)

	Defs(ctx context.Context, kind models.DefKind) ([]models.Def, error)
	DefByName(ctx context.Context, kind models.DefKind, name string) (*models.Def, error)

	JoinFellowshipByCode(ctx context.Context, req models.JoinRequest) (*models.JoinedAdventure, error)
	AdventureRoster(ctx context.Context, adventureID string) ([]models.RosterEntry, error)

	// Subscribe calls fn for every change to table that matches filter until
	// the returned func is called. fn may run on another goroutine.
	Subscribe(ctx context.Context, table string, filter realtime.Filter, fn func(realtime.Change)) (unsubscribe func(), err error)
}

// Error is a failure reported by the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

func hasStatus(err error, status int) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == status
}

func IsNotFound(err error) bool     { return hasStatus(err, http.StatusNotFound) }
func IsConflict(err error) bool     { return hasStatus(err, http.StatusConflict) }
func IsForbidden(err error) bool    { return hasStatus(err, http.StatusForbidden) }
func IsUnauthorized(err error) bool { return hasStatus(err, http.StatusUnauthorized) }

// Level grades a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notice is a transient message for the player.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Notifier shows notices. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(Notice) {})

// Failure builds the error notice shown after a failed write.
func Failure(title string, err error) Notice {
	return Notice{Level: LevelError, Title: title, Message: err.Error()}
}
