package core

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// CodePurpose distinguishes what a one-time code proves.
type CodePurpose string

const (
	PurposeEmailVerification CodePurpose = "email_verification"
	PurposePasswordReset     CodePurpose = "password_reset"
)

// CodeTTL is how long an issued code stays valid.
const CodeTTL = 10 * time.Minute

// Contact addresses a one-time code at an email or a phone. Exactly one
// field is set.
type Contact struct {
	Email string
	Phone string
}

func EmailContact(email string) Contact { return Contact{Email: normalizeEmail(email)} }
func PhoneContact(phone string) Contact { return Contact{Phone: strings.TrimSpace(phone)} }

func (c Contact) IsEmail() bool { return c.Email != "" }

func (c Contact) String() string {
	if c.IsEmail() {
		return c.Email
	}
	return c.Phone
}

// OneTimeCode is one row of the custom code table. Codes reference contact
// strings rather than identity rows so a contact can be verified before an
// identity exists.
type OneTimeCode struct {
	ID         int64
	Code       string
	Purpose    CodePurpose
	Email      *string
	Phone      *string
	IdentityID *string
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}

// CodeStore is the custom OTP side table. Implementations live in the otp
// package (Postgres for production, memory for tests and dev).
type CodeStore interface {
	// Issue persists a fresh code with expiry now+CodeTTL and returns it.
	// Prior outstanding codes for the same contact are left untouched: any
	// unexpired, unused, matching code verifies.
	Issue(ctx context.Context, purpose CodePurpose, contact Contact, identityID string) (string, error)

	// Verify selects the most recently issued matching row and atomically
	// marks it used. ErrCodeNotFound when no unused, unexpired row matches
	// contact+purpose+code. The check-and-set must be a single conditional
	// operation so exactly one of two concurrent callers wins.
	Verify(ctx context.Context, purpose CodePurpose, contact Contact, code string) (*OneTimeCode, error)

	// PurgeExpired deletes rows that expired before the cutoff. Expiry is
	// enforced at verify-time; this exists only to keep the table bounded.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// GenerateCode returns a uniformly random 6-digit decimal string, leading
// zeros preserved.
func GenerateCode() string {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		b.WriteByte('0' + byte(randInt(10)))
	}
	return b.String()
}

func randInt(max int) int {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	n := int(b[0]) | int(b[1])<<8 | int(b[2])<<16 | int(b[3])<<24
	if n < 0 {
		n = -n
	}
	return n % max
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateContact(c Contact) error {
	if (c.Email == "") == (c.Phone == "") {
		return fmt.Errorf("contact must set exactly one of email or phone")
	}
	return nil
}
