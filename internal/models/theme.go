package models

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Theme limits.
const (
	MaxCharacterThemes  = 4
	MaxFellowshipThemes = 1
	CounterMax          = 3
)

// Counter names one of a theme's three progress tracks
type Counter string

const (
	CounterImprove   Counter = "improve"
	CounterAbandon   Counter = "abandon"
	CounterMilestone Counter = "milestone"
)

// Counters lists the tracks in display order.
var Counters = []Counter{CounterImprove, CounterAbandon, CounterMilestone}

// Theme is a character or fellowship theme card
type Theme struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CharacterID  *string   `json:"character_id"`
	FellowshipID *string   `json:"fellowship_id"`
	Quest        *string   `json:"quest"`
	Improve      int       `json:"improve"`
	Abandon      int       `json:"abandon"`
	Milestone    int       `json:"milestone"`
	IsRetired    bool      `json:"is_retired"`
	IsScratched  bool      `json:"is_scratched"`
	MightLevelID *string   `json:"might_level_id"`
	TypeID       *string   `json:"type_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Owner returns the character or fellowship the theme belongs to.
func (t Theme) Owner() Owner {
	o, _ := OwnerFromColumns(OwnerColumns{CharacterID: t.CharacterID, FellowshipID: t.FellowshipID})
	return o
}

// Counter returns the value of track c.
func (t Theme) Counter(c Counter) int {
	switch c {
	case CounterImprove:
		return t.Improve
	case CounterAbandon:
		return t.Abandon
	case CounterMilestone:
		return t.Milestone
	}
	return 0
}

// ThemeCreate is the request body for creating a theme
type ThemeCreate struct {
	ID           string `json:"id,omitempty"`
	Owner        Owner  `json:"owner"`
	Name         string `json:"name"`
	TypeID       string `json:"type_id"`
	MightLevelID string `json:"might_level_id"`
}

// Validate checks the shape of the request; limits are enforced by the store.
func (c ThemeCreate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if !c.Owner.ValidFor(OwnerCharacter, OwnerFellowship) {
		return ErrInvalidOwner
	}
	if c.TypeID == "" || c.MightLevelID == "" {
		return ErrDefsRequired
	}
	return nil
}

// ThemeUpdate is the request body for patching a theme
type ThemeUpdate struct {
	Name         *string          `json:"name,omitempty"`
	Quest        Nullable[string] `json:"quest,omitzero"`
	Improve      *int             `json:"improve,omitempty"`
	Abandon      *int             `json:"abandon,omitempty"`
	Milestone    *int             `json:"milestone,omitempty"`
	IsRetired    *bool            `json:"is_retired,omitempty"`
	IsScratched  *bool            `json:"is_scratched,omitempty"`
	MightLevelID Nullable[string] `json:"might_level_id,omitzero"`
	TypeID       Nullable[string] `json:"type_id,omitzero"`
}

// CounterUpdate patches a single track.
func CounterUpdate(c Counter, v int) ThemeUpdate {
	var u ThemeUpdate
	switch c {
	case CounterImprove:
		u.Improve = &v
	case CounterAbandon:
		u.Abandon = &v
	case CounterMilestone:
		u.Milestone = &v
	}
	return u
}

// Apply copies every set field of u onto t.
func (u ThemeUpdate) Apply(t *Theme) {
	setString(&t.Name, u.Name)
	if u.Quest.Set {
		t.Quest = u.Quest.Value
	}
	if u.Improve != nil {
		t.Improve = *u.Improve
	}
	if u.Abandon != nil {
		t.Abandon = *u.Abandon
	}
	if u.Milestone != nil {
		t.Milestone = *u.Milestone
	}
	if u.IsRetired != nil {
		t.IsRetired = *u.IsRetired
	}
	if u.IsScratched != nil {
		t.IsScratched = *u.IsScratched
	}
	if u.MightLevelID.Set {
		t.MightLevelID = u.MightLevelID.Value
	}
	if u.TypeID.Set {
		t.TypeID = u.TypeID.Value
	}
}

// ClickCounter returns the new track value after clicking checkbox position (1..3).
// A box is checked when the counter is at or above its position, so clicking an
// unchecked box fills up to it and clicking a checked box empties down to just below it.
func ClickCounter(current, position int) (int, error) {
	if position < 1 || position > CounterMax {
		return current, ErrInvalidCounter
	}
	if current >= position {
		return position - 1, nil
	}
	return position, nil
}

// CounterChecked reports whether checkbox position renders as checked.
func CounterChecked(current, position int) bool {
	return current >= position
}

// NameComparer returns a comparison that orders names ignoring case and
// diacritics. It owns one collator, so build it once per sort and do not share
// it between goroutines.
func NameComparer() func(a, b string) int {
	return nameCollator().CompareString
}

// SortThemes sorts themes by name, falling back to creation time and id so equal
// names still land in a stable order.
func SortThemes(themes []Theme) {
	compare := NameComparer()
	sort.SliceStable(themes, func(i, j int) bool {
		if c := compare(themes[i].Name, themes[j].Name); c != 0 {
			return c < 0
		}
		if !themes[i].CreatedAt.Equal(themes[j].CreatedAt) {
			return themes[i].CreatedAt.Before(themes[j].CreatedAt)
		}
		return themes[i].ID < themes[j].ID
	})
}

// A Collator keeps scratch buffers, so each caller gets its own.
func nameCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase, collate.IgnoreDiacritics, collate.IgnoreWidth)
}
