package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/realtime"
)

// Store handles all database operations
type Store struct {
	db      *sql.DB
	changes *realtime.Broker
	now     func() time.Time
}

// New creates a new Store with SQLite. Committed writes are announced on changes,
// which may be nil.
func New(dbPath string, changes *realtime.Broker) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, changes: changes, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS adventures (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			subscribe_code TEXT NOT NULL UNIQUE,
			owner_player_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fellowships (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			adventure_id TEXT NOT NULL UNIQUE REFERENCES adventures(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			player_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			fellowship_id TEXT REFERENCES fellowships(id) ON DELETE SET NULL,
			promise INTEGER NOT NULL DEFAULT 0 CHECK (promise BETWEEN 0 AND 5),
			appearance TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			background TEXT NOT NULL DEFAULT '',
			relationships TEXT NOT NULL DEFAULT '',
			aspirations TEXT NOT NULL DEFAULT '',
			achievements TEXT NOT NULL DEFAULT '',
			brief_trait_physical TEXT NOT NULL DEFAULT '',
			brief_trait_personality TEXT NOT NULL DEFAULT '',
			brief_race TEXT NOT NULL DEFAULT '',
			brief_class TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_characters_player ON characters(player_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_characters_fellowship ON characters(fellowship_id)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			display_name TEXT NOT NULL,
			active_character_id TEXT REFERENCES characters(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS might_level_defs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS theme_type_defs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS quintessence_defs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS themes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			character_id TEXT REFERENCES characters(id) ON DELETE CASCADE,
			fellowship_id TEXT UNIQUE REFERENCES fellowships(id) ON DELETE CASCADE,
			quest TEXT,
			improve INTEGER NOT NULL DEFAULT 0 CHECK (improve BETWEEN 0 AND 3),
			abandon INTEGER NOT NULL DEFAULT 0 CHECK (abandon BETWEEN 0 AND 3),
			milestone INTEGER NOT NULL DEFAULT 0 CHECK (milestone BETWEEN 0 AND 3),
			is_retired INTEGER NOT NULL DEFAULT 0,
			is_scratched INTEGER NOT NULL DEFAULT 0,
			might_level_id TEXT REFERENCES might_level_defs(id),
			type_id TEXT REFERENCES theme_type_defs(id),
			created_at DATETIME NOT NULL,
			CHECK ((character_id IS NULL) <> (fellowship_id IS NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_themes_character ON themes(character_id)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('Story', 'Power', 'Weakness', 'Fellowship', 'Single-Use')),
			is_scratched INTEGER NOT NULL DEFAULT 0,
			is_negative INTEGER NOT NULL DEFAULT 0,
			theme_id TEXT REFERENCES themes(id) ON DELETE CASCADE,
			character_id TEXT REFERENCES characters(id) ON DELETE CASCADE,
			fellowship_id TEXT REFERENCES fellowships(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL,
			CHECK ((theme_id IS NOT NULL) + (character_id IS NOT NULL) + (fellowship_id IS NOT NULL) <= 1)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_theme ON tags(theme_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_character ON tags(character_id)`,
		`CREATE TABLE IF NOT EXISTS statuses (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			is_negative INTEGER NOT NULL DEFAULT 0,
			tier1 INTEGER NOT NULL DEFAULT 0,
			tier2 INTEGER NOT NULL DEFAULT 0,
			tier3 INTEGER NOT NULL DEFAULT 0,
			tier4 INTEGER NOT NULL DEFAULT 0,
			tier5 INTEGER NOT NULL DEFAULT 0,
			tier6 INTEGER NOT NULL DEFAULT 0,
			character_id TEXT REFERENCES characters(id) ON DELETE CASCADE,
			fellowship_id TEXT REFERENCES fellowships(id) ON DELETE CASCADE,
			adventure_id TEXT REFERENCES adventures(id) ON DELETE CASCADE,
			created_at DATETIME NOT NULL,
			CHECK ((character_id IS NOT NULL) + (fellowship_id IS NOT NULL) + (adventure_id IS NOT NULL) <= 1)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_statuses_character ON statuses(character_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS character_quintessences (
			character_id TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
			quintessence_id TEXT NOT NULL REFERENCES quintessence_defs(id) ON DELETE CASCADE,
			PRIMARY KEY (character_id, quintessence_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// --- Errors ---

// Error kinds returned by the store. Match them with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrLimitReached = errors.New("limit reached")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
)

// Error carries a user-facing message and one of the kinds above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// classify turns driver constraint failures into store errors.
func classify(entity string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return &Error{Kind: ErrConflict, Message: entity + " already exists"}
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return &Error{Kind: ErrInvalid, Message: "invalid " + entity}
		case sqlite3.ErrConstraintForeignKey:
			return &Error{Kind: ErrInvalid, Message: entity + " references a missing row"}
		}
	}
	return err
}

func notFound(entity string) error {
	return &Error{Kind: ErrNotFound, Message: entity + " not found"}
}

// --- Helpers ---

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// patch builds a dynamic UPDATE statement from the fields a request actually set.
type patch struct {
	sets []string
	args []interface{}
}

func (p *patch) set(column string, value interface{}) {
	p.sets = append(p.sets, column+" = ?")
	p.args = append(p.args, value)
}

func (p *patch) empty() bool {
	return len(p.sets) == 0
}

func (p *patch) exec(ctx context.Context, db *sql.DB, table, id string) error {
	if p.empty() {
		return nil
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(p.sets, ", "))
	res, err := db.ExecContext(ctx, query, append(p.args, id)...)
	if err != nil {
		return classify(entity(table), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(entity(table))
	}
	return nil
}

func entity(table string) string {
	if table == "statuses" {
		return "status"
	}
	return strings.TrimSuffix(table, "s")
}

func (s *Store) publish(table string, op realtime.Op, id string, cols map[string]string) {
	s.changes.Publish(realtime.Change{Table: table, Op: op, ID: id, Columns: cols})
}

func ownerCols(c models.OwnerColumns) map[string]string {
	m := map[string]string{}
	for name, v := range map[string]*string{
		"character_id":  c.CharacterID,
		"theme_id":      c.ThemeID,
		"fellowship_id": c.FellowshipID,
		"adventure_id":  c.AdventureID,
	} {
		if v != nil {
			m[name] = *v
		}
	}
	return m
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("rollback failed", slog.Any("error", err))
	}
}
