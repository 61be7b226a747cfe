package lists

import (
	"context"

	"github.com/meur/mistbook/internal/remote"
)

// ResolveLanding picks the character to open after sign-in: the profile's
// active character, else the most recently created one. It returns "" when
// the player has no characters.
func ResolveLanding(ctx context.Context, b remote.Backend) (string, error) {
	prof, err := b.Profile(ctx)
	if err != nil {
		return "", err
	}
	if id := prof.ActiveCharacterID; id != nil && *id != "" {
		return *id, nil
	}
	c, err := b.LatestCharacter(ctx)
	if err != nil || c == nil {
		return "", err
	}
	return c.ID, nil
}
