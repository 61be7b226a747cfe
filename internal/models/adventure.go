package models

import (
	"strings"
	"time"
)

// JoinCodeLength is the number of letters in an adventure's join code.
const JoinCodeLength = 4

// Adventure is a campaign other players join with its code
type Adventure struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SubscribeCode string    `json:"subscribe_code"`
	OwnerPlayerID string    `json:"owner_player_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// AdventureCreate is the request body for creating an adventure
type AdventureCreate struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// AdventureUpdate is the request body for renaming an adventure
type AdventureUpdate struct {
	Name *string `json:"name,omitempty"`
}

// Fellowship is the party of characters enrolled in an adventure
type Fellowship struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AdventureID string    `json:"adventure_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayName falls back to "Fellowship" for unnamed fellowships.
func (f Fellowship) DisplayName() string {
	if n := strings.TrimSpace(f.Name); n != "" {
		return n
	}
	return "Fellowship"
}

// JoinedAdventure is the flat projection shown on a character sheet once enrolled.
type JoinedAdventure struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SubscribeCode  string `json:"subscribe_code"`
	FellowshipID   string `json:"fellowship_id"`
	FellowshipName string `json:"fellowship_name"`
}

// RosterEntry is one row of an adventure roster with the owner's display name and
// the character's brief fields.
type RosterEntry struct {
	CharacterID        string    `json:"character_id"`
	CharacterName      string    `json:"character_name"`
	OwnerDisplayName   string    `json:"owner_display_name"`
	CharacterCreatedAt time.Time `json:"character_created_at"`
	BriefFields
}

// JoinRequest is the body of the join-by-code procedure
type JoinRequest struct {
	JoinCode    string `json:"join_code"`
	CharacterID string `json:"character_id"`
}

// JoinCodeLetters uppercases raw and drops everything but A-Z.
func JoinCodeLetters(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeJoinCode is the join-code field as typed: JoinCodeLetters capped at
// four letters.
func NormalizeJoinCode(raw string) string {
	code := JoinCodeLetters(raw)
	if len(code) > JoinCodeLength {
		code = code[:JoinCodeLength]
	}
	return code
}

// ValidJoinCode reports whether raw holds exactly four letters once
// uppercased and stripped. Longer input is not truncated into a valid code.
func ValidJoinCode(raw string) bool {
	return len(JoinCodeLetters(raw)) == JoinCodeLength
}
