package editor

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
	"github.com/meur/mistbook/internal/realtime"
)

func statusID(s models.Status) string { return s.ID }

// Statuses edits the statuses of one character, fellowship or adventure in
// creation order.
type Statuses struct {
	Deps
	owner models.Owner

	mu      sync.Mutex
	rows    []models.Status
	loadErr error
}

// NewStatuses edits the statuses held by owner.
func NewStatuses(d Deps, owner models.Owner) *Statuses {
	return &Statuses{Deps: d, owner: owner}
}

func (s *Statuses) Load(ctx context.Context) error {
	rows, err := s.Backend.Statuses(ctx, s.owner)
	s.mu.Lock()
	s.loadErr = err
	if err == nil {
		s.rows = rows
	}
	s.mu.Unlock()
	s.Changed()
	return err
}

// Watch reloads whenever one of the owner's statuses changes.
func (s *Statuses) Watch(ctx context.Context) (func(), error) {
	filter := realtime.Eq(string(s.owner.Kind)+"_id", s.owner.ID)
	return s.Deps.WatchTable(ctx, "statuses", filter, s.Load)
}

// Err returns the last load error.
func (s *Statuses) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// List returns the statuses oldest first.
func (s *Statuses) List() []models.Status {
	s.mu.Lock()
	out := slices.Clone(s.rows)
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b models.Status) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Add creates a status under a client id.
func (s *Statuses) Add(ctx context.Context, name string, negative bool) error {
	req := models.StatusCreate{
		ID:         uuid.NewString(),
		Owner:      s.owner,
		Name:       strings.TrimSpace(name),
		IsNegative: negative,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	row := req.Row()
	row.CreatedAt = placeholderTime()

	err := optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Lock:     &s.mu,
		Snapshot: func() struct{} { return struct{}{} },
		Apply: func() error {
			s.rows = optimistic.Upsert(s.rows, row, statusID)
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := s.Backend.CreateStatus(ctx, req)
			return err
		},
		Restore: func(struct{}) { s.rows = optimistic.Remove(s.rows, req.ID, statusID) },
		Title:   "Could not add status",
		Notify:  s.Notifier(),
		Changed: s.Changed,
	})
	if err == nil {
		s.Info("Status added")
	}
	return err
}

func (s *Statuses) edit(ctx context.Context, id string, patch func(models.Status) (models.StatusUpdate, bool, error)) error {
	var (
		u    models.StatusUpdate
		skip bool
	)
	return optimistic.Run(ctx, optimistic.Mutation[*models.Status]{
		Lock:     &s.mu,
		Snapshot: func() *models.Status { return optimistic.Copy(s.rows, id, statusID) },
		Apply: func() error {
			row := optimistic.Find(s.rows, id, statusID)
			if row == nil {
				return models.ErrNotLoaded
			}
			var err error
			if u, skip, err = patch(*row); err != nil || skip {
				return err
			}
			u.Apply(row)
			return nil
		},
		Remote: func(ctx context.Context) error {
			if skip {
				return nil
			}
			_, err := s.Backend.UpdateStatus(ctx, id, u)
			return err
		},
		Restore: func(prev *models.Status) { s.rows = optimistic.Revert(s.rows, prev, statusID) },
		Title:   "Could not update status",
		Notify:  s.Notifier(),
		Changed: s.Changed,
	})
}

// Rename renames status id. A name equal to the current one sends nothing.
func (s *Statuses) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ErrNameRequired
	}
	return s.edit(ctx, id, func(st models.Status) (models.StatusUpdate, bool, error) {
		return models.StatusUpdate{Name: &name}, st.Name == name, nil
	})
}

// ToggleTier flips box n (1..6). Boxes are independent of each other.
func (s *Statuses) ToggleTier(ctx context.Context, id string, n int) error {
	return s.edit(ctx, id, func(st models.Status) (models.StatusUpdate, bool, error) {
		u, err := models.TierUpdate(n, !st.Tier(n))
		return u, false, err
	})
}

// ToggleNegative flips whether status id is a harmful one.
func (s *Statuses) ToggleNegative(ctx context.Context, id string) error {
	return s.edit(ctx, id, func(st models.Status) (models.StatusUpdate, bool, error) {
		v := !st.IsNegative
		return models.StatusUpdate{IsNegative: &v}, false, nil
	})
}

// Remove deletes status id.
func (s *Statuses) Remove(ctx context.Context, id string) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Status]{
		Lock:     &s.mu,
		Snapshot: func() *models.Status { return optimistic.Copy(s.rows, id, statusID) },
		Apply: func() error {
			s.rows = optimistic.Remove(s.rows, id, statusID)
			return nil
		},
		Remote:  func(ctx context.Context) error { return s.Backend.DeleteStatus(ctx, id) },
		Restore: func(prev *models.Status) { s.rows = optimistic.Reinsert(s.rows, prev, statusID) },
		Title:   "Could not delete status",
		Notify:  s.Notifier(),
		Changed: s.Changed,
	})
}
