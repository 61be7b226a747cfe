// Package optimistic applies local changes before the remote write they stand
// for and rolls them back when that write fails.
package optimistic

import (
	"context"
	"sync"

	"github.com/meur/mistbook/internal/remote"
)

// Mutation is one optimistic write against state guarded by Lock.
//
// Snapshot and Apply run under the lock, Remote runs without it, and Restore
// runs under the lock again if Remote fails. Overlapping mutations are not
// serialized: the last remote write wins.
type Mutation[S any] struct {
	Lock sync.Locker

	// Snapshot captures what Restore needs to undo Apply.
	Snapshot func() S
	// Apply changes the cached state. An error aborts the mutation before
	// any remote call.
	Apply func() error
	// Remote performs the write.
	Remote func(ctx context.Context) error
	// Restore puts the snapshot back.
	Restore func(S)

	// Title heads the error notice. Notify may be nil.
	Title  string
	Notify remote.Notifier
	// Changed, if set, runs without the lock after Apply and after a rollback.
	Changed func()
}

// Run applies m locally, issues the remote write and rolls back on failure.
// The remote error is returned after the notice has been sent.
func Run[S any](ctx context.Context, m Mutation[S]) error {
	m.Lock.Lock()
	snap := m.Snapshot()
	if err := m.Apply(); err != nil {
		m.Lock.Unlock()
		return err
	}
	m.Lock.Unlock()
	changed(m.Changed)

	err := m.Remote(ctx)
	if err == nil {
		return nil
	}

	m.Lock.Lock()
	m.Restore(snap)
	m.Lock.Unlock()
	changed(m.Changed)

	if m.Notify != nil {
		m.Notify.Notify(remote.Failure(m.Title, err))
	}
	return err
}

func changed(fn func()) {
	if fn != nil {
		fn()
	}
}
