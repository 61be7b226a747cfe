package models

import (
	"strings"
	"time"
)

// TagType is the category of a tag
type TagType string

const (
	TagStory      TagType = "Story"
	TagPower      TagType = "Power"
	TagWeakness   TagType = "Weakness"
	TagFellowship TagType = "Fellowship"
	TagSingleUse  TagType = "Single-Use"
)

// Valid reports whether t is one of the known categories.
func (t TagType) Valid() bool {
	switch t {
	case TagStory, TagPower, TagWeakness, TagFellowship, TagSingleUse:
		return true
	}
	return false
}

// Scratchable reports whether tags of this type can be burned. Weaknesses cannot.
func (t TagType) Scratchable() bool {
	return t.Valid() && t != TagWeakness
}

// Tag is a story, power or weakness tag
type Tag struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         TagType   `json:"type"`
	IsScratched  bool      `json:"is_scratched"`
	IsNegative   bool      `json:"is_negative"`
	ThemeID      *string   `json:"theme_id"`
	CharacterID  *string   `json:"character_id"`
	FellowshipID *string   `json:"fellowship_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Owner returns the theme, character or fellowship holding the tag.
func (t Tag) Owner() Owner {
	o, _ := OwnerFromColumns(OwnerColumns{ThemeID: t.ThemeID, CharacterID: t.CharacterID, FellowshipID: t.FellowshipID})
	return o
}

// TagCreate is the request body for creating a tag
type TagCreate struct {
	ID         string  `json:"id,omitempty"`
	Owner      Owner   `json:"owner"`
	Name       string  `json:"name"`
	Type       TagType `json:"type"`
	IsNegative bool    `json:"is_negative"`
}

// Validate checks the request before it is sent or stored.
func (c TagCreate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if !c.Type.Valid() {
		return ErrInvalidTagType
	}
	if !c.Owner.ValidFor(OwnerCharacter, OwnerTheme, OwnerFellowship) {
		return ErrInvalidOwner
	}
	return nil
}

// Row builds the optimistic row for the request.
func (c TagCreate) Row() Tag {
	cols := c.Owner.Columns()
	return Tag{
		ID:           c.ID,
		Name:         strings.TrimSpace(c.Name),
		Type:         c.Type,
		IsNegative:   c.IsNegative,
		ThemeID:      cols.ThemeID,
		CharacterID:  cols.CharacterID,
		FellowshipID: cols.FellowshipID,
	}
}

// TagUpdate is the request body for patching a tag
type TagUpdate struct {
	Name        *string `json:"name,omitempty"`
	IsScratched *bool   `json:"is_scratched,omitempty"`
	IsNegative  *bool   `json:"is_negative,omitempty"`
}

// Apply copies every set field of u onto t.
func (u TagUpdate) Apply(t *Tag) {
	setString(&t.Name, u.Name)
	if u.IsScratched != nil {
		t.IsScratched = *u.IsScratched
	}
	if u.IsNegative != nil {
		t.IsNegative = *u.IsNegative
	}
}

// TagQuery selects tags. Owner filters are OR-combined; Types and WithoutTheme
// narrow the result further.
type TagQuery struct {
	CharacterID  string
	ThemeIDs     []string
	FellowshipID string
	Types        []TagType
	WithoutTheme bool
}

// Matches reports whether t would be returned by the query.
func (q TagQuery) Matches(t Tag) bool {
	owned := false
	if q.CharacterID != "" && t.CharacterID != nil && *t.CharacterID == q.CharacterID {
		owned = true
	}
	if q.FellowshipID != "" && t.FellowshipID != nil && *t.FellowshipID == q.FellowshipID {
		owned = true
	}
	for _, id := range q.ThemeIDs {
		if t.ThemeID != nil && *t.ThemeID == id {
			owned = true
		}
	}
	if !owned {
		return false
	}
	if q.WithoutTheme && t.ThemeID != nil {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, typ := range q.Types {
		if t.Type == typ {
			return true
		}
	}
	return false
}

// Empty reports whether the query names no owner at all.
func (q TagQuery) Empty() bool {
	return q.CharacterID == "" && q.FellowshipID == "" && len(q.ThemeIDs) == 0
}
