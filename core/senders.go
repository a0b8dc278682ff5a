package core

import "context"

// EmailTemplate names a transactional email layout. Subject and body content
// are the delivery service's concern.
type EmailTemplate string

const (
	TemplateOTP              EmailTemplate = "otp"
	TemplatePasswordReset    EmailTemplate = "password-reset"
	TemplatePasswordResetOTP EmailTemplate = "password-reset-otp"
	TemplateWelcome          EmailTemplate = "welcome"
)

// EmailSender dispatches transactional email. When no sender is configured
// the service logs the payload instead, which is the dev-mode behavior.
type EmailSender interface {
	Send(ctx context.Context, to string, template EmailTemplate, data map[string]string) error
}

// SMSSender dispatches custom codes over SMS. Provider-native phone OTP does
// not go through this; only custom-store codes addressed at a phone do.
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// CountryChecker reports whether a phone number's dialing code is allowed.
type CountryChecker interface {
	Supported(ctx context.Context, phoneE164 string) (bool, error)
}
