// Package sheet composes the character sheet: the tab and slot model, the
// fragment the active tab is mirrored to, and the Sheet view-model that loads
// a character and wires its editors together.
package sheet

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/meur/mistbook/internal/models"
)

// TabKey names one tab of the sheet. The key doubles as the fragment value.
type TabKey string

const (
	TabTheme1     TabKey = "theme1"
	TabTheme2     TabKey = "theme2"
	TabTheme3     TabKey = "theme3"
	TabTheme4     TabKey = "theme4"
	TabFellowship TabKey = "fellowship"
	TabBackpack   TabKey = "backpack"
	TabStatuses   TabKey = "statuses"
	TabBio        TabKey = "bio"
)

// SlotCount is the number of theme slots on a sheet.
const SlotCount = models.MaxCharacterThemes

var themeTabs = [SlotCount]TabKey{TabTheme1, TabTheme2, TabTheme3, TabTheme4}

// BuildTabOrder returns the tabs in display order. The fellowship tab is only
// present while the character is enrolled.
func BuildTabOrder(enrolled bool) []TabKey {
	order := make([]TabKey, 0, SlotCount+4)
	order = append(order, themeTabs[:]...)
	if enrolled {
		order = append(order, TabFellowship)
	}
	return append(order, TabBackpack, TabStatuses, TabBio)
}

// ParseTabKey reads a fragment value, with or without its leading '#'.
func ParseTabKey(s string) (TabKey, bool) {
	k := TabKey(strings.TrimPrefix(s, "#"))
	if slices.Contains(BuildTabOrder(true), k) {
		return k, true
	}
	return "", false
}

// ThemeTab returns the tab of slot (1..4), or "" when slot is out of range.
func ThemeTab(slot int) TabKey {
	if slot < 1 || slot > SlotCount {
		return ""
	}
	return themeTabs[slot-1]
}

// Slot returns the theme slot (1..4) k shows, or 0 for the fixed tabs.
func (k TabKey) Slot() int {
	if i := slices.Index(themeTabs[:], k); i >= 0 {
		return i + 1
	}
	return 0
}

// IsTheme reports whether k is one of the four theme slots.
func (k TabKey) IsTheme() bool { return k.Slot() > 0 }

// AssignSlots orders themes by name and returns exactly four slots; slot i
// holds the i-th theme, or nil when there are fewer. Themes beyond the fourth
// are not shown.
func AssignSlots(themes []models.Theme) []*models.Theme {
	sorted := slices.Clone(themes)
	models.SortThemes(sorted)
	slots := make([]*models.Theme, SlotCount)
	for i := range min(len(sorted), SlotCount) {
		t := sorted[i]
		slots[i] = &t
	}
	return slots
}

const labelRunes = 10

// Label is the short tab caption. slots is the output of AssignSlots.
func Label(k TabKey, slots []*models.Theme) string {
	switch k {
	case TabFellowship:
		return "Fellowship"
	case TabBackpack:
		return "Backpack"
	case TabStatuses:
		return "Statuses"
	case TabBio:
		return "Bio"
	}
	n := k.Slot()
	if n == 0 || n > len(slots) || slots[n-1] == nil {
		return "No Theme"
	}
	return truncate(slots[n-1].Name)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= labelRunes {
		return s
	}
	return string([]rune(s)[:labelRunes]) + "…"
}
