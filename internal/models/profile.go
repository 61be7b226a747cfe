package models

import (
	"strings"
	"time"
)

// User is an authenticated account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultDisplayName picks a profile name for a new player: their account name,
// else the local part of their email, else "Player".
func (u User) DefaultDisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	if local, _, ok := strings.Cut(u.Email, "@"); ok && local != "" {
		return local
	}
	return "Player"
}

// Profile is the per-player display record
type Profile struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	ActiveCharacterID *string   `json:"active_character_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProfileUpdate is the request body for patching a profile
type ProfileUpdate struct {
	DisplayName       *string          `json:"display_name,omitempty"`
	ActiveCharacterID Nullable[string] `json:"active_character_id,omitzero"`
}

// Credentials is the body of the sign-up and login calls
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// AuthResult is returned by sign-up and login
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// DefKind names one of the reference tables
type DefKind string

const (
	DefMightLevels   DefKind = "might-levels"
	DefThemeTypes    DefKind = "theme-types"
	DefQuintessences DefKind = "quintessences"
)

// Valid reports whether k names a known table.
func (k DefKind) Valid() bool {
	switch k {
	case DefMightLevels, DefThemeTypes, DefQuintessences:
		return true
	}
	return false
}

// Def is an id/name pair from a reference table
type Def struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Well-known definition names.
const (
	MightOrigin     = "Origin"
	MightAdventure  = "Adventure"
	MightGreatness  = "Greatness"
	ThemeTypeFellow = "Fellowship"
)

// FindDef returns the def called name.
func FindDef(defs []Def, name string) (Def, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Def{}, false
}

// OrderedMightLevels returns Origin, Adventure and Greatness in ascending might,
// skipping any that are missing.
func OrderedMightLevels(defs []Def) []Def {
	var out []Def
	for _, name := range []string{MightOrigin, MightAdventure, MightGreatness} {
		if d, ok := FindDef(defs, name); ok {
			out = append(out, d)
		}
	}
	return out
}

// Quintessence is a quintessence held by a character
type Quintessence struct {
	QuintessenceID string `json:"quintessence_id"`
	Name           string `json:"name"`
}
