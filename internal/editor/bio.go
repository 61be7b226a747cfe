package editor

import (
	"context"
	"sync"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
)

// Bio edits the four brief fields and the six biography fields of the cached
// character. Each group has its own draft.
type Bio struct {
	cell *CharacterCell

	Brief   optimistic.Draft[models.BriefFields]
	Details optimistic.Draft[models.Bio]
}

// NewBio edits the character held by cell.
func NewBio(cell *CharacterCell) *Bio {
	return &Bio{cell: cell}
}

func (b *Bio) EditBrief()   { b.Brief.Begin(b.cell.Get().BriefFields) }
func (b *Bio) EditDetails() { b.Details.Begin(b.cell.Get().Bio) }

// SaveBrief writes the brief draft and closes it on success.
func (b *Bio) SaveBrief(ctx context.Context) error {
	return b.Brief.Save(ctx, func(ctx context.Context, v models.BriefFields) error {
		return b.save(ctx, models.BriefUpdate(v))
	})
}

// SaveDetails writes the biography draft and closes it on success.
func (b *Bio) SaveDetails(ctx context.Context) error {
	return b.Details.Save(ctx, func(ctx context.Context, v models.Bio) error {
		return b.save(ctx, models.BioUpdate(v))
	})
}

func (b *Bio) save(ctx context.Context, u models.CharacterUpdate) error {
	if err := b.cell.Patch(ctx, "Could not save bio", u); err != nil {
		return err
	}
	b.cell.Info("Saved")
	return nil
}

// Summary renders the brief fields as one line.
func (b *Bio) Summary() string {
	return models.CharacterBrief(b.cell.Get().BriefFields, models.BriefOptions{})
}

// Promise steps the character's promise between 0 and 5. While a write is in
// flight both directions are disabled.
type Promise struct {
	cell *CharacterCell

	mu   sync.Mutex
	busy bool
}

// NewPromise edits the promise of the character held by cell.
func NewPromise(cell *CharacterCell) *Promise {
	return &Promise{cell: cell}
}

func (p *Promise) Value() int { return p.cell.Get().Promise }

// Busy reports whether a write is in flight.
func (p *Promise) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

func (p *Promise) CanIncrement() bool { return !p.Busy() && models.CanIncrementPromise(p.Value()) }
func (p *Promise) CanDecrement() bool { return !p.Busy() && models.CanDecrementPromise(p.Value()) }

// Increment raises the promise by one. At the maximum, or while busy, it does
// nothing.
func (p *Promise) Increment(ctx context.Context) error { return p.step(ctx, +1) }

// Decrement lowers the promise by one. At zero, or while busy, it does nothing.
func (p *Promise) Decrement(ctx context.Context) error { return p.step(ctx, -1) }

func (p *Promise) step(ctx context.Context, delta int) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil
	}
	cur := p.cell.Get().Promise
	next := models.ClampPromise(cur + delta)
	if next == cur {
		p.mu.Unlock()
		return nil
	}
	p.busy = true
	p.mu.Unlock()
	p.cell.Changed()

	err := p.cell.Patch(ctx, "Could not save promise", models.CharacterUpdate{Promise: &next})

	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
	p.cell.Changed()
	return err
}
