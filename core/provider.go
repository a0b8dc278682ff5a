package core

import "context"

// Channel selects how a one-time code travels.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ProviderIdentity is the provider's view of an authenticated principal, as
// returned by sign-up, token grants and OAuth callbacks.
type ProviderIdentity struct {
	Subject        string // provider-assigned id; copied into the local mirror
	Email          string
	Phone          string
	EmailConfirmed bool
	Provider       string // "google" etc. for OAuth identities, else ""
	Name           string
	AvatarURL      string
}

// Provider is the hosted identity provider surface the adapter delegates to.
// The wire format is the provider's concern; implementations map transport
// and provider-side failures to ErrProvider and bad codes to
// ErrInvalidOrExpiredCode. The idp package has the HTTP implementation.
type Provider interface {
	// SignUp registers email+password credentials with the provider, which
	// creates the identity in provider storage.
	SignUp(ctx context.Context, email, password string) (*ProviderIdentity, error)

	// PasswordGrant exchanges email+password for a provider session.
	PasswordGrant(ctx context.Context, email, password string) (*ProviderIdentity, error)

	// SendOTP asks the provider to deliver its native one-time code.
	SendOTP(ctx context.Context, contact string, channel Channel) error

	// VerifyOTP checks a provider-native code.
	VerifyOTP(ctx context.Context, contact, code string, channel Channel) (*ProviderIdentity, error)

	// UpdatePasswordByEmail force-sets the provider password for the account
	// matching email. Used by password reset, where no session token exists.
	UpdatePasswordByEmail(ctx context.Context, email, newPassword string) error

	// RestoreSession silently resumes the current provider session, if any.
	RestoreSession(ctx context.Context) (*ProviderIdentity, error)

	// SignOut invalidates the current provider session.
	SignOut(ctx context.Context) error
}
