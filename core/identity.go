package core

import (
	"context"
	"time"
)

// Identity mirrors one provider-side principal in local storage. The id is
// copied from the provider; the row is never hard-deleted by this core.
type Identity struct {
	ID            string
	Email         *string
	Phone         *string
	EmailVerified bool
	AuthProvider  *string // "google" etc. for OAuth identities
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EmailString returns the email or "".
func (i *Identity) EmailString() string {
	if i == nil || i.Email == nil {
		return ""
	}
	return *i.Email
}

// IdentityStore persists the local identity mirror. Lookups return (nil, nil)
// when no row matches.
type IdentityStore interface {
	ByID(ctx context.Context, id string) (*Identity, error)
	ByEmail(ctx context.Context, email string) (*Identity, error)
	ByPhone(ctx context.Context, phone string) (*Identity, error)

	// Insert creates the mirror row if absent. Inserting an existing id is a
	// no-op; existing fields are never overwritten.
	Insert(ctx context.Context, id *Identity) error

	// SetEmailVerified flips the verified flag for every row holding email.
	SetEmailVerified(ctx context.Context, email string, verified bool) error
}

// ProfileStore persists application profiles, one per identity.
type ProfileStore interface {
	// ByIdentity returns (nil, nil) when the identity has no profile.
	ByIdentity(ctx context.Context, identityID string) (*Profile, error)

	// UsernameExists is the advisory pre-check; the unique constraint inside
	// Insert is the source of truth.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// Insert creates the profile, returning ErrUsernameTaken when the
	// storage-level uniqueness constraint rejects it.
	Insert(ctx context.Context, p *Profile) error
}
