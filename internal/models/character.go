package models

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Promise bounds.
const (
	PromiseMin = 0
	PromiseMax = 5
)

// Character is a player's character sheet row
type Character struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	PlayerID     string    `json:"player_id"`
	FellowshipID *string   `json:"fellowship_id"`
	Promise      int       `json:"promise"`
	CreatedAt    time.Time `json:"created_at"`

	Bio
	BriefFields
}

// Bio holds the free-text biography fields
type Bio struct {
	Appearance    string `json:"appearance"`
	Personality   string `json:"personality"`
	Background    string `json:"background"`
	Relationships string `json:"relationships"`
	Aspirations   string `json:"aspirations"`
	Achievements  string `json:"achievements"`
}

// BriefFields are the four short descriptors shown on rosters
type BriefFields struct {
	TraitPhysical    string `json:"brief_trait_physical"`
	TraitPersonality string `json:"brief_trait_personality"`
	Race             string `json:"brief_race"`
	Class            string `json:"brief_class"`
}

// Enrolled reports whether the character currently belongs to a fellowship.
func (c Character) Enrolled() bool {
	return c.FellowshipID != nil && *c.FellowshipID != ""
}

// CharacterCreate is the request body for creating a character
type CharacterCreate struct {
	ID   string `json:"id,omitempty"` // optional client-generated id
	Name string `json:"name"`
}

// CharacterUpdate is the request body for patching a character
type CharacterUpdate struct {
	Name         *string          `json:"name,omitempty"`
	FellowshipID Nullable[string] `json:"fellowship_id,omitzero"`
	Promise      *int             `json:"promise,omitempty"`

	Appearance    *string `json:"appearance,omitempty"`
	Personality   *string `json:"personality,omitempty"`
	Background    *string `json:"background,omitempty"`
	Relationships *string `json:"relationships,omitempty"`
	Aspirations   *string `json:"aspirations,omitempty"`
	Achievements  *string `json:"achievements,omitempty"`

	TraitPhysical    *string `json:"brief_trait_physical,omitempty"`
	TraitPersonality *string `json:"brief_trait_personality,omitempty"`
	Race             *string `json:"brief_race,omitempty"`
	Class            *string `json:"brief_class,omitempty"`
}

// Apply copies every set field of u onto c.
func (u CharacterUpdate) Apply(c *Character) {
	setString(&c.Name, u.Name)
	if u.FellowshipID.Set {
		c.FellowshipID = u.FellowshipID.Value
	}
	if u.Promise != nil {
		c.Promise = *u.Promise
	}
	setString(&c.Appearance, u.Appearance)
	setString(&c.Personality, u.Personality)
	setString(&c.Background, u.Background)
	setString(&c.Relationships, u.Relationships)
	setString(&c.Aspirations, u.Aspirations)
	setString(&c.Achievements, u.Achievements)
	setString(&c.TraitPhysical, u.TraitPhysical)
	setString(&c.TraitPersonality, u.TraitPersonality)
	setString(&c.Race, u.Race)
	setString(&c.Class, u.Class)
}

// BioUpdate patches all six biography fields at once.
func BioUpdate(b Bio) CharacterUpdate {
	return CharacterUpdate{
		Appearance:    &b.Appearance,
		Personality:   &b.Personality,
		Background:    &b.Background,
		Relationships: &b.Relationships,
		Aspirations:   &b.Aspirations,
		Achievements:  &b.Achievements,
	}
}

// BriefUpdate patches all four brief fields at once.
func BriefUpdate(b BriefFields) CharacterUpdate {
	return CharacterUpdate{
		TraitPhysical:    &b.TraitPhysical,
		TraitPersonality: &b.TraitPersonality,
		Race:             &b.Race,
		Class:            &b.Class,
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// ClampPromise forces n into [PromiseMin, PromiseMax].
func ClampPromise(n int) int {
	return min(max(n, PromiseMin), PromiseMax)
}

func CanIncrementPromise(n int) bool { return n < PromiseMax }
func CanDecrementPromise(n int) bool { return n > PromiseMin }

// BriefOptions tunes CharacterBrief.
type BriefOptions struct {
	CapitalizeTraits bool
	KeepRaceClass    bool // skip title-casing race and class
	NoComma          bool // join traits with a space instead of ", "
}

// CharacterBrief renders the one-line descriptor, e.g. "scarred, curious Wood Elf Ranger".
func CharacterBrief(b BriefFields, opts BriefOptions) string {
	phys := clean(b.TraitPhysical)
	pers := clean(b.TraitPersonality)
	race := clean(b.Race)
	class := clean(b.Class)

	title := cases.Title(language.Und)
	if opts.CapitalizeTraits {
		phys = title.String(phys)
		pers = title.String(pers)
	}
	if !opts.KeepRaceClass {
		race = title.String(race)
		class = title.String(class)
	}

	sep := ", "
	if opts.NoComma {
		sep = " "
	}
	left := joinNonEmpty(sep, phys, pers)
	right := joinNonEmpty(" ", race, class)
	return joinNonEmpty(" ", left, right)
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
