package core

import (
	"fmt"
	"strings"
	"time"
)

// UserType partitions profiles between individuals and companies.
type UserType string

const (
	UserTypeIndividual UserType = "individual"
	UserTypeCorporate  UserType = "corporate"
)

// Profile is the application-level record layered on an Identity. A profile
// cannot outlive its identity; the active flag gates whether the session
// treats it as usable.
type Profile struct {
	IdentityID  string
	UserType    UserType
	FirstName   string
	LastName    string
	CompanyName *string
	Username    string
	CountryCode *string
	City        *string
	AvatarURL   *string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileInput carries the profile-completion form.
type ProfileInput struct {
	IdentityID  string
	UserType    UserType
	FirstName   string
	LastName    string
	CompanyName string
	Username    string
	CountryCode string
	City        string
	AvatarURL   string
}

func (in *ProfileInput) validate() error {
	if strings.TrimSpace(in.IdentityID) == "" {
		return fmt.Errorf("identity id required")
	}
	if strings.TrimSpace(in.Username) == "" {
		return fmt.Errorf("username required")
	}
	switch in.UserType {
	case UserTypeIndividual:
		if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
			return fmt.Errorf("first and last name required")
		}
	case UserTypeCorporate:
		if strings.TrimSpace(in.CompanyName) == "" {
			return fmt.Errorf("company name required")
		}
	default:
		return fmt.Errorf("unknown user type %q", in.UserType)
	}
	return nil
}

// GenerateUsername suggests a username from a person's name plus a random
// 3-digit suffix.
func GenerateUsername(firstName, lastName string) string {
	base := strings.ToLower(strings.TrimSpace(firstName)) + strings.ToLower(strings.TrimSpace(lastName))
	return fmt.Sprintf("%s%d", base, randInt(1000))
}

// GenerateBrandUsername suggests a username from a company name.
func GenerateBrandUsername(brandName string) string {
	base := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(brandName), " ", ""))
	return fmt.Sprintf("%s%d", base, randInt(1000))
}

// InitialsAvatar builds the two-letter avatar fallback.
func InitialsAvatar(firstName, lastName string) string {
	var b strings.Builder
	if firstName != "" {
		b.WriteString(strings.ToUpper(firstName[:1]))
	}
	if lastName != "" {
		b.WriteString(strings.ToUpper(lastName[:1]))
	}
	return b.String()
}
