// Package realtime fans out row change notifications to per-table subscribers.
//
// Changes carry only the row id and the values of the columns subscribers filter
// on; consumers treat them as a cue to re-read, never as the row itself.
package realtime

import (
	"fmt"
	"strings"
	"sync"
)

// Op is the kind of write that produced a change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change describes one committed write.
type Change struct {
	Table   string
	Op      Op
	ID      string
	Columns map[string]string
}

// Filter restricts a subscription to rows whose Column equals Value.
// The zero Filter matches every row of the table.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter reads the "column=eq.value" form. An empty string is the zero Filter.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, nil
	}
	col, rest, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("invalid filter %q", s)
	}
	val, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("unsupported filter operator in %q", s)
	}
	return Filter{Column: col, Value: val}, nil
}

// Eq builds a column equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Change) bool {
	if f.Column == "" {
		return true
	}
	if f.Column == "id" {
		return c.ID == f.Value
	}
	return c.Columns[f.Column] == f.Value
}

// Broker delivers published changes to matching subscriptions. A subscriber that
// falls behind loses changes instead of blocking the writer.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewBroker creates a broker whose subscriptions buffer up to buffer changes.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[uint64]*Subscription), buffer: buffer}
}

// Subscription receives changes for one table and filter until closed.
type Subscription struct {
	C <-chan Change

	id     uint64
	table  string
	filter Filter
	ch     chan Change
	broker *Broker
	once   sync.Once
}

// Subscribe registers interest in table rows passing filter.
func (b *Broker) Subscribe(table string, filter Filter) *Subscription {
	ch := make(chan Change, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{C: ch, id: b.nextID, table: table, filter: filter, ch: ch, broker: b}
	b.subs[s.id] = s
	return s
}

// Publish hands c to every matching subscription without blocking.
func (b *Broker) Publish(c Change) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.table != c.Table || !s.filter.Match(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		close(s.ch)
	})
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
