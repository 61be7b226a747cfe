package models

import (
	"strings"
	"time"
)

// TierCount is the number of tier boxes on a status.
const TierCount = 6

// Status is a condition on a character, fellowship or adventure
type Status struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IsNegative   bool      `json:"is_negative"`
	Tier1        bool      `json:"tier1"`
	Tier2        bool      `json:"tier2"`
	Tier3        bool      `json:"tier3"`
	Tier4        bool      `json:"tier4"`
	Tier5        bool      `json:"tier5"`
	Tier6        bool      `json:"tier6"`
	CharacterID  *string   `json:"character_id"`
	FellowshipID *string   `json:"fellowship_id"`
	AdventureID  *string   `json:"adventure_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Status) tierField(n int) *bool {
	switch n {
	case 1:
		return &s.Tier1
	case 2:
		return &s.Tier2
	case 3:
		return &s.Tier3
	case 4:
		return &s.Tier4
	case 5:
		return &s.Tier5
	case 6:
		return &s.Tier6
	}
	return nil
}

// Tier reports whether box n (1..6) is marked.
func (s Status) Tier(n int) bool {
	if f := s.tierField(n); f != nil {
		return *f
	}
	return false
}

// HighestTier is the highest marked box, or 0. Boxes are independent; this is a
// read-time projection only.
func (s Status) HighestTier() int {
	for n := TierCount; n >= 1; n-- {
		if s.Tier(n) {
			return n
		}
	}
	return 0
}

// Owner returns the character, fellowship or adventure holding the status.
func (s Status) Owner() Owner {
	o, _ := OwnerFromColumns(OwnerColumns{CharacterID: s.CharacterID, FellowshipID: s.FellowshipID, AdventureID: s.AdventureID})
	return o
}

// StatusCreate is the request body for creating a status
type StatusCreate struct {
	ID         string `json:"id,omitempty"`
	Owner      Owner  `json:"owner"`
	Name       string `json:"name"`
	IsNegative bool   `json:"is_negative"`
}

// Validate checks the request before it is sent or stored.
func (c StatusCreate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if !c.Owner.ValidFor(OwnerCharacter, OwnerFellowship, OwnerAdventure) {
		return ErrInvalidOwner
	}
	return nil
}

// Row builds the optimistic row for the request.
func (c StatusCreate) Row() Status {
	cols := c.Owner.Columns()
	return Status{
		ID:           c.ID,
		Name:         strings.TrimSpace(c.Name),
		IsNegative:   c.IsNegative,
		CharacterID:  cols.CharacterID,
		FellowshipID: cols.FellowshipID,
		AdventureID:  cols.AdventureID,
	}
}

// StatusUpdate is the request body for patching a status
type StatusUpdate struct {
	Name       *string `json:"name,omitempty"`
	IsNegative *bool   `json:"is_negative,omitempty"`
	Tier1      *bool   `json:"tier1,omitempty"`
	Tier2      *bool   `json:"tier2,omitempty"`
	Tier3      *bool   `json:"tier3,omitempty"`
	Tier4      *bool   `json:"tier4,omitempty"`
	Tier5      *bool   `json:"tier5,omitempty"`
	Tier6      *bool   `json:"tier6,omitempty"`
}

// TierUpdate patches box n only.
func TierUpdate(n int, v bool) (StatusUpdate, error) {
	var u StatusUpdate
	switch n {
	case 1:
		u.Tier1 = &v
	case 2:
		u.Tier2 = &v
	case 3:
		u.Tier3 = &v
	case 4:
		u.Tier4 = &v
	case 5:
		u.Tier5 = &v
	case 6:
		u.Tier6 = &v
	default:
		return u, ErrInvalidTier
	}
	return u, nil
}

// Apply copies every set field of u onto s.
func (u StatusUpdate) Apply(s *Status) {
	setString(&s.Name, u.Name)
	if u.IsNegative != nil {
		s.IsNegative = *u.IsNegative
	}
	for n, v := range []*bool{u.Tier1, u.Tier2, u.Tier3, u.Tier4, u.Tier5, u.Tier6} {
		if v != nil {
			*s.tierField(n + 1) = *v
		}
	}
}
