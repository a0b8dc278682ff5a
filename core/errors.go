package core

import "errors"

// Error kinds surfaced by the auth core. Callers dispatch with errors.Is;
// wrapped variants carry the underlying cause.
var (
	// ErrUnsupportedRegion is returned when a phone number's dialing code is
	// not in the supported-country allow-list.
	ErrUnsupportedRegion = errors.New("unsupported region")

	// ErrProvider covers transport failures and provider-side 4xx/5xx from the
	// hosted identity provider. Generally retryable by the user.
	ErrProvider = errors.New("identity provider error")

	// ErrInvalidOrExpiredCode is the user-facing verification failure.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")

	// ErrCodeNotFound means the custom store holds no unused, unexpired code
	// matching contact+purpose+code. Used internally to trigger the provider
	// fallback; surfaced directly only on custom-store-only paths.
	ErrCodeNotFound = errors.New("code not found")

	// ErrEmailNotVerified is raised by password login when the mirrored
	// identity has email_verified=false. A fresh code has already been issued
	// and dispatched by the time callers see this.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrIdentityNotFound means no mirrored identity matches the contact.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrUsernameTaken is surfaced on profile creation when the storage-level
	// unique constraint rejects the username.
	ErrUsernameTaken = errors.New("username taken")

	// ErrTimeout marks an operation abandoned because its context expired.
	ErrTimeout = errors.New("operation timed out")

	// ErrProfileIncomplete is a routing signal, not a failure: the identity is
	// authenticated but has no usable profile yet.
	ErrProfileIncomplete = errors.New("profile incomplete")
)
