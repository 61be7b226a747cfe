package sheet

import (
	"context"

	"github.com/meur/mistbook/internal/models"
	"github.com/meur/mistbook/internal/remote"
)

// Joined returns the adventure the character is enrolled in, or nil.
func (s *Sheet) Joined() *models.JoinedAdventure {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined == nil {
		return nil
	}
	ja := *s.joined
	return &ja
}

// JoinCode returns the join-code field.
func (s *Sheet) JoinCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCode
}

// SetJoinCode updates the join-code field as the player types. The input is
// normalized to at most four uppercase letters.
func (s *Sheet) SetJoinCode(raw string) {
	s.mu.Lock()
	s.joinCode = models.NormalizeJoinCode(raw)
	s.mu.Unlock()
	s.Changed()
}

// Joining reports whether a join is in flight.
func (s *Sheet) Joining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joining
}

// Leaving reports whether a leave is in flight.
func (s *Sheet) Leaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaving
}

func (s *Sheet) setBusy(flag *bool, v bool) {
	s.mu.Lock()
	*flag = v
	s.mu.Unlock()
	s.Changed()
}

// Join enrolls the character in the adventure with code raw. A code that is
// not four letters is rejected without any remote call. On success the
// character's fellowship is re-read and the adventure details hydrated.
func (s *Sheet) Join(ctx context.Context, raw string) error {
	if !models.ValidJoinCode(raw) {
		return models.ErrInvalidJoinCode
	}
	code := models.JoinCodeLetters(raw)
	fail := func(err error) error {
		s.Notifier().Notify(remote.Failure("Could not join adventure", err))
		return err
	}
	if _, err := s.Backend.Profile(ctx); err != nil {
		return fail(err)
	}

	s.setBusy(&s.joining, true)
	_, err := s.Backend.JoinFellowshipByCode(ctx, models.JoinRequest{JoinCode: code, CharacterID: s.characterID})
	s.setBusy(&s.joining, false)
	if err != nil {
		return fail(err)
	}

	fresh, err := s.Backend.Character(ctx, s.characterID)
	if err != nil {
		return fail(err)
	}
	c := s.Character.Get()
	c.FellowshipID = fresh.FellowshipID
	s.Character.Replace(c)

	var ja *models.JoinedAdventure
	if c.Enrolled() {
		ja = s.hydrate(ctx, *c.FellowshipID)
	}
	s.mu.Lock()
	s.setJoined(ja)
	s.joinCode = code
	s.mu.Unlock()

	s.Nav.SetEnrolled(c.Enrolled())
	s.Info("Joined adventure")
	return nil
}

// Leave clears the character's fellowship. The join-code field is reset so
// the sheet is ready for another code.
func (s *Sheet) Leave(ctx context.Context) error {
	if !s.Character.Get().Enrolled() {
		return nil
	}
	s.setBusy(&s.leaving, true)
	err := s.Character.Patch(ctx, "Could not leave adventure", models.CharacterUpdate{
		FellowshipID: models.Null[string](),
	})
	s.setBusy(&s.leaving, false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.joined = nil
	s.joinCode = ""
	s.mu.Unlock()

	s.Nav.SetEnrolled(false)
	s.Info("Left adventure")
	return nil
}
