package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/meur/mistbook/internal/remote"
	"github.com/meur/mistbook/internal/remote/remotetest"
)

type counter struct {
	mu    sync.Mutex
	value int
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *counter) set(ctx context.Context, next int, write func(context.Context) error, n remote.Notifier) error {
	return Run(ctx, Mutation[int]{
		Lock:     &c.mu,
		Snapshot: func() int { return c.value },
		Apply:    func() error { c.value = next; return nil },
		Remote:   write,
		Restore:  func(v int) { c.value = v },
		Title:    "Could not save",
		Notify:   n,
	})
}

func TestRunKeepsStateOnSuccess(t *testing.T) {
	c := &counter{value: 1}
	var seen int
	err := c.set(context.Background(), 2, func(context.Context) error {
		seen = c.get()
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if seen != 2 {
		t.Fatalf("remote saw %d, local change should be visible first", seen)
	}
	if c.get() != 2 {
		t.Fatalf("value = %d, want 2", c.get())
	}
}

func TestRunRollsBackAndNotifies(t *testing.T) {
	c := &counter{value: 1}
	notices := &remotetest.Notices{}
	boom := &remote.Error{Status: 409, Message: "duplicate key"}

	err := c.set(context.Background(), 3, func(context.Context) error { return boom }, notices)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if c.get() != 1 {
		t.Fatalf("value = %d, want rollback to 1", c.get())
	}
	got := notices.Errors()
	if len(got) != 1 || got[0].Title != "Could not save" || got[0].Message != "duplicate key" {
		t.Fatalf("notices = %+v", got)
	}

	// The user can retry the same action.
	if err := c.set(context.Background(), 3, func(context.Context) error { return nil }, notices); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.get() != 3 {
		t.Fatalf("value after retry = %d", c.get())
	}
}

func TestApplyErrorSkipsRemote(t *testing.T) {
	var mu sync.Mutex
	called := false
	invalid := errors.New("name required")
	err := Run(context.Background(), Mutation[struct{}]{
		Lock:     &mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply:    func() error { return invalid },
		Remote:   func(context.Context) error { called = true; return nil },
		Restore:  func(struct{}) {},
	})
	if !errors.Is(err, invalid) || called {
		t.Fatalf("err = %v, remote called = %v", err, called)
	}
}

func TestChangedRunsAfterApplyAndRollback(t *testing.T) {
	var mu sync.Mutex
	value, calls := 0, 0
	_ = Run(context.Background(), Mutation[int]{
		Lock:     &mu,
		Snapshot: func() int { return value },
		Apply:    func() error { value = 5; return nil },
		Remote:   func(context.Context) error { return errors.New("offline") },
		Restore:  func(v int) { value = v },
		Changed: func() {
			// Must run without the lock held.
			mu.Lock()
			calls++
			mu.Unlock()
		},
	})
	if calls != 2 || value != 0 {
		t.Fatalf("calls = %d, value = %d", calls, value)
	}
}

func TestDraft(t *testing.T) {
	var d Draft[string]
	if d.Editing() {
		t.Fatal("zero draft should be closed")
	}
	d.Set("ignored")
	if v, _ := d.Value(); v != "" {
		t.Fatalf("closed draft accepted %q", v)
	}

	d.Begin("Wanderer")
	d.Set("Wanderer of Mists")
	fail := errors.New("offline")
	var sent string
	err := d.Save(context.Background(), func(_ context.Context, v string) error {
		sent = v
		return fail
	})
	if !errors.Is(err, fail) || sent != "Wanderer of Mists" {
		t.Fatalf("save = %v, sent %q", err, sent)
	}
	if v, ok := d.Value(); !ok || v != "Wanderer of Mists" {
		t.Fatalf("failed save should keep the draft, got %q %v", v, ok)
	}

	if err := d.Save(context.Background(), func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("save: %v", err)
	}
	if d.Editing() {
		t.Fatal("successful save should close the draft")
	}

	d.Begin("a")
	d.Cancel()
	if d.Editing() {
		t.Fatal("cancel should close the draft")
	}
}

type row struct{ id, name string }

func rowID(r row) string { return r.id }

func TestRows(t *testing.T) {
	rows := []row{{"1", "a"}, {"2", "b"}}
	snap := Copy(rows, "2", rowID)

	rows = Upsert(rows, row{"2", "B"}, rowID)
	rows = Upsert(rows, row{"3", "c"}, rowID)
	if len(rows) != 3 || rows[1].name != "B" {
		t.Fatalf("upsert = %+v", rows)
	}
	if snap == nil || snap.name != "b" {
		t.Fatal("copy should not alias the live row")
	}
	if Copy(rows, "9", rowID) != nil {
		t.Fatal("copy of a missing row should be nil")
	}
	if r := Find(rows, "3", rowID); r == nil || r.name != "c" {
		t.Fatalf("find = %+v", r)
	}
	rows = Remove(rows, "1", rowID)
	if len(rows) != 2 || Find(rows, "1", rowID) != nil {
		t.Fatalf("remove = %+v", rows)
	}
}

func TestRollbackTouchesOneRow(t *testing.T) {
	rows := []row{{"1", "a"}, {"2", "b"}}

	// A failed delete of row 1 overlaps a successful insert of row 3.
	gone := Copy(rows, "1", rowID)
	rows = Remove(rows, "1", rowID)
	rows = Upsert(rows, row{"3", "c"}, rowID)
	rows = Reinsert(rows, gone, rowID)
	if len(rows) != 3 || Find(rows, "1", rowID) == nil || Find(rows, "3", rowID) == nil {
		t.Fatalf("reinsert = %+v", rows)
	}

	// A failed rename of row 2 is undone; row 3's rename stands.
	prev := Copy(rows, "2", rowID)
	Find(rows, "2", rowID).name = "B"
	Find(rows, "3", rowID).name = "C"
	rows = Revert(rows, prev, rowID)
	if Find(rows, "2", rowID).name != "b" || Find(rows, "3", rowID).name != "C" {
		t.Fatalf("revert = %+v", rows)
	}

	// Reverting an edit to a row deleted meanwhile does not bring it back.
	prev = Copy(rows, "3", rowID)
	rows = Remove(rows, "3", rowID)
	rows = Revert(rows, prev, rowID)
	if Find(rows, "3", rowID) != nil {
		t.Fatalf("revert resurrected a deleted row: %+v", rows)
	}
	if got := Reinsert(rows, nil, rowID); len(got) != len(rows) {
		t.Fatal("reinserting nothing should be a no-op")
	}
}
