package sheet

import (
	"errors"
	"slices"
	"sync"

	"github.com/meur/mistbook/internal/models"
)

// ErrUnknownTab is returned when selecting a tab the sheet does not show.
var ErrUnknownTab = errors.New("unknown tab")

// Navigator tracks the active tab of a sheet and keeps it in step with a
// Fragment in both directions. Selecting an empty theme slot opens the theme
// creation form for that slot.
type Navigator struct {
	frag     Fragment
	onChange func()
	cancel   func()

	mu     sync.Mutex
	order  []TabKey
	slots  []*models.Theme
	active TabKey
	// pending is the slot (1..4) whose creation form is open, or 0.
	pending int
	// wanted is a fragment tab that is valid but not shown yet, such as
	// fellowship before enrollment is known.
	wanted TabKey
}

// NewNavigator starts on the tab named by frag, or theme1.
func NewNavigator(frag Fragment, enrolled bool, onChange func()) *Navigator {
	n := &Navigator{
		frag:     frag,
		onChange: onChange,
		order:    BuildTabOrder(enrolled),
		slots:    make([]*models.Theme, SlotCount),
		active:   TabTheme1,
	}
	if k, ok := ParseTabKey(frag.Get()); ok {
		if slices.Contains(n.order, k) {
			n.active = k
		} else {
			n.wanted = k
		}
	}
	n.cancel = frag.Subscribe(n.fromFragment)
	return n
}

// Close stops listening to the fragment.
func (n *Navigator) Close() { n.cancel() }

func (n *Navigator) Active() TabKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// Order returns the tabs currently shown.
func (n *Navigator) Order() []TabKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.order)
}

// Slots returns the theme in each of the four slots.
func (n *Navigator) Slots() []*models.Theme {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.slots)
}

// Labels returns the caption of every shown tab, in order.
func (n *Navigator) Labels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.order))
	for i, k := range n.order {
		out[i] = Label(k, n.slots)
	}
	return out
}

// ActiveTheme returns the theme in the active slot, or nil.
func (n *Navigator) ActiveTheme() *models.Theme {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s := n.active.Slot(); s > 0 {
		return n.slots[s-1]
	}
	return nil
}

// EmptySlot reports whether the active tab is a theme slot with no theme.
func (n *Navigator) EmptySlot() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.active.Slot()
	return s > 0 && n.slots[s-1] == nil
}

// PendingSlot returns the slot the creation form is open for, or 0. The form
// is only shown while that slot is active and still empty.
func (n *Navigator) PendingSlot() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending == 0 || n.active.Slot() != n.pending || n.slots[n.pending-1] != nil {
		return 0
	}
	return n.pending
}

// Select makes k the active tab.
func (n *Navigator) Select(k TabKey) error {
	n.mu.Lock()
	if !slices.Contains(n.order, k) {
		n.mu.Unlock()
		return ErrUnknownTab
	}
	n.wanted = ""
	n.activate(k)
	n.mu.Unlock()
	n.publish(k)
	return nil
}

// Next moves one tab to the right, wrapping around.
func (n *Navigator) Next() TabKey { return n.step(1) }

// Prev moves one tab to the left, wrapping around.
func (n *Navigator) Prev() TabKey { return n.step(-1) }

func (n *Navigator) step(delta int) TabKey {
	n.mu.Lock()
	i := slices.Index(n.order, n.active)
	k := n.order[(i+delta+len(n.order))%len(n.order)]
	n.wanted = ""
	n.activate(k)
	n.mu.Unlock()
	n.publish(k)
	return k
}

// activate sets the active tab. Callers hold mu.
func (n *Navigator) activate(k TabKey) {
	n.active = k
	n.pending = 0
	if s := k.Slot(); s > 0 && n.slots[s-1] == nil {
		n.pending = s
	}
}

func (n *Navigator) publish(k TabKey) {
	n.frag.Set(string(k))
	if n.onChange != nil {
		n.onChange()
	}
}

func (n *Navigator) fromFragment(v string) {
	k, ok := ParseTabKey(v)
	if !ok {
		return
	}
	n.mu.Lock()
	if k == n.active || !slices.Contains(n.order, k) {
		n.mu.Unlock()
		return
	}
	n.wanted = ""
	n.activate(k)
	n.mu.Unlock()
	if n.onChange != nil {
		n.onChange()
	}
}

// SetSlots replaces the slot assignment. The active tab is left alone, so
// deleting the active theme leaves its now empty slot selected.
func (n *Navigator) SetSlots(slots []*models.Theme) {
	n.mu.Lock()
	n.slots = make([]*models.Theme, SlotCount)
	copy(n.slots, slots)
	n.mu.Unlock()
	if n.onChange != nil {
		n.onChange()
	}
}

// ThemeCreated closes the creation form and shows slot.
func (n *Navigator) ThemeCreated(slot int) {
	k := ThemeTab(slot)
	if k == "" {
		return
	}
	n.mu.Lock()
	n.active = k
	n.pending = 0
	n.wanted = ""
	n.mu.Unlock()
	n.publish(k)
}

// CloseForm closes the creation form without changing tabs.
func (n *Navigator) CloseForm() {
	n.mu.Lock()
	n.pending = 0
	n.mu.Unlock()
	if n.onChange != nil {
		n.onChange()
	}
}

// SetEnrolled recomputes the tab order after a join or leave. A still valid
// active tab is kept; otherwise the sheet falls back to theme1.
func (n *Navigator) SetEnrolled(enrolled bool) {
	n.mu.Lock()
	n.order = BuildTabOrder(enrolled)
	k := n.active
	switch {
	case n.wanted != "" && slices.Contains(n.order, n.wanted):
		k = n.wanted
		n.wanted = ""
	case !slices.Contains(n.order, k):
		k = TabTheme1
	}
	moved := k != n.active
	if moved {
		n.activate(k)
	}
	n.mu.Unlock()
	if moved {
		n.publish(k)
	} else if n.onChange != nil {
		n.onChange()
	}
}
