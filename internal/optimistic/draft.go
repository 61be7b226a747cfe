package optimistic

import (
	"context"
	"sync"
)

// Draft is an edit buffer kept apart from the committed value. Begin seeds it,
// Cancel throws it away without any remote call, and Save ends editing only
// when the write succeeds.
type Draft[T any] struct {
	mu      sync.Mutex
	editing bool
	value   T
}

// Begin enters edit mode with a copy of committed.
func (d *Draft[T]) Begin(committed T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.editing = true
	d.value = committed
}

// Editing reports whether the draft is open.
func (d *Draft[T]) Editing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.editing
}

// Value returns the draft and whether it is open.
func (d *Draft[T]) Value() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.editing
}

// Set replaces the draft. It is ignored when the draft is closed.
func (d *Draft[T]) Set(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.editing {
		d.value = v
	}
}

// Update edits the draft in place. It is ignored when the draft is closed.
func (d *Draft[T]) Update(fn func(*T)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.editing {
		fn(&d.value)
	}
}

// Cancel discards the draft.
func (d *Draft[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var zero T
	d.editing = false
	d.value = zero
}

// Save sends the draft through save. The draft closes only when save succeeds;
// on failure it stays open with the user's edits.
func (d *Draft[T]) Save(ctx context.Context, save func(context.Context, T) error) error {
	v, ok := d.Value()
	if !ok {
		return nil
	}
	if err := save(ctx, v); err != nil {
		return err
	}
	d.Cancel()
	return nil
}
