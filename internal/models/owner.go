package models

// OwnerKind names the table a tag, status or theme hangs off.
type OwnerKind string

const (
	OwnerCharacter  OwnerKind = "character"
	OwnerTheme      OwnerKind = "theme"
	OwnerFellowship OwnerKind = "fellowship"
	OwnerAdventure  OwnerKind = "adventure"
)

// Owner is the single parent of an owned row. Rows store it as mutually exclusive
// nullable columns; everything above the store passes this value instead.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func CharacterOwner(id string) Owner  { return Owner{Kind: OwnerCharacter, ID: id} }
func ThemeOwner(id string) Owner      { return Owner{Kind: OwnerTheme, ID: id} }
func FellowshipOwner(id string) Owner { return Owner{Kind: OwnerFellowship, ID: id} }
func AdventureOwner(id string) Owner  { return Owner{Kind: OwnerAdventure, ID: id} }

// ValidFor reports whether the owner is set and its kind is one of allowed.
func (o Owner) ValidFor(allowed ...OwnerKind) bool {
	if o.ID == "" {
		return false
	}
	for _, k := range allowed {
		if o.Kind == k {
			return true
		}
	}
	return false
}

// OwnerColumns is the nullable-column form of an Owner.
type OwnerColumns struct {
	CharacterID  *string
	ThemeID      *string
	FellowshipID *string
	AdventureID  *string
}

// Columns spreads the owner over the nullable foreign keys, leaving the others nil.
func (o Owner) Columns() OwnerColumns {
	id := o.ID
	var c OwnerColumns
	switch o.Kind {
	case OwnerCharacter:
		c.CharacterID = &id
	case OwnerTheme:
		c.ThemeID = &id
	case OwnerFellowship:
		c.FellowshipID = &id
	case OwnerAdventure:
		c.AdventureID = &id
	}
	return c
}

// OwnerFromColumns returns the first non-nil column as an Owner.
func OwnerFromColumns(c OwnerColumns) (Owner, bool) {
	switch {
	case c.ThemeID != nil:
		return ThemeOwner(*c.ThemeID), true
	case c.CharacterID != nil:
		return CharacterOwner(*c.CharacterID), true
	case c.FellowshipID != nil:
		return FellowshipOwner(*c.FellowshipID), true
	case c.AdventureID != nil:
		return AdventureOwner(*c.AdventureID), true
	}
	return Owner{}, false
}
