package editor

import (
	"context"
	"strings"
	"sync"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/optimistic"
)

// Profile edits the signed-in player's display name and active character.
type Profile struct {
	Deps

	mu      sync.Mutex
	profile *models.Profile
	loadErr error

	Name optimistic.Draft[string]
}

func NewProfile(d Deps) *Profile {
	return &Profile{Deps: d}
}

// Load reads the profile; the backend creates it on first use.
func (p *Profile) Load(ctx context.Context) error {
	prof, err := p.Backend.Profile(ctx)
	p.mu.Lock()
	p.loadErr = err
	if err == nil {
		p.profile = prof
	}
	p.mu.Unlock()
	p.Changed()
	return err
}

// Profile returns the cached profile, or nil before the first load.
func (p *Profile) Profile() *models.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return nil
	}
	cp := *p.profile
	return &cp
}

func (p *Profile) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadErr
}

// BeginRename opens the name draft.
func (p *Profile) BeginRename() {
	var name string
	if prof := p.Profile(); prof != nil {
		name = prof.DisplayName
	}
	p.Name.Begin(name)
}

// SaveName writes a non-empty display name.
func (p *Profile) SaveName(ctx context.Context) error {
	return p.Name.Save(ctx, func(ctx context.Context, v string) error {
		name := strings.TrimSpace(v)
		if name == "" {
			return models.ErrNameRequired
		}
		err := p.update(ctx, "Could not save profile", models.ProfileUpdate{DisplayName: &name}, func(prof *models.Profile) {
			prof.DisplayName = name
		})
		if err == nil {
			p.Info("Saved")
		}
		return err
	})
}

// SetActiveCharacter points the profile at characterID; "" clears it.
func (p *Profile) SetActiveCharacter(ctx context.Context, characterID string) error {
	u := models.ProfileUpdate{ActiveCharacterID: models.Null[string]()}
	if characterID != "" {
		u.ActiveCharacterID = models.Some(characterID)
	}
	return p.update(ctx, "Could not set active character", u, func(prof *models.Profile) {
		prof.ActiveCharacterID = u.ActiveCharacterID.Value
	})
}

func (p *Profile) update(ctx context.Context, title string, u models.ProfileUpdate, apply func(*models.Profile)) error {
	return optimistic.Run(ctx, optimistic.Mutation[*models.Profile]{
		Lock:     &p.mu,
		Snapshot: func() *models.Profile { return p.profile },
		Apply: func() error {
			if p.profile == nil {
				return models.ErrNotLoaded
			}
			next := *p.profile
			apply(&next)
			p.profile = &next
			return nil
		},
		Remote: func(ctx context.Context) error {
			_, err := p.Backend.UpdateProfile(ctx, u)
			return err
		},
		Restore: func(prev *models.Profile) { p.profile = prev },
		Title:   title,
		Notify:  p.Notifier(),
		Changed: p.Changed,
	})
}
