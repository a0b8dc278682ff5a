package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Service is the identity-provider adapter plus the profile existence gate.
// Dependencies attach through the WithX builders; everything is optional
// except a Provider for the operations that delegate to it.
type Service struct {
	pg         *pgxpool.Pool
	identities IdentityStore
	profiles   ProfileStore
	codes      CodeStore
	provider   Provider
	email      EmailSender
	sms        SMSSender
	countries  CountryChecker
	log        *zap.Logger
}

func NewService() *Service {
	return &Service{log: zap.NewNop()}
}

// WithPostgres attaches a pgx pool and installs the Postgres-backed identity
// and profile stores.
func (s *Service) WithPostgres(pool *pgxpool.Pool) *Service {
	s.pg = pool
	s.identities = NewPGIdentityStore(pool)
	s.profiles = NewPGProfileStore(pool)
	return s
}

// WithStores overrides the identity/profile stores (tests, dev mode).
func (s *Service) WithStores(ids IdentityStore, profs ProfileStore) *Service {
	s.identities = ids
	s.profiles = profs
	return s
}

// WithCodeStore attaches the custom OTP store.
func (s *Service) WithCodeStore(cs CodeStore) *Service { s.codes = cs; return s }

// WithProvider attaches the hosted identity provider client.
func (s *Service) WithProvider(p Provider) *Service { s.provider = p; return s }

// WithEmailSender sets the transactional email dependency.
func (s *Service) WithEmailSender(sender EmailSender) *Service { s.email = sender; return s }

// WithSMSSender sets the SMS dependency for custom phone codes.
func (s *Service) WithSMSSender(sender SMSSender) *Service { s.sms = sender; return s }

// WithCountries sets the dialing-code allow-list.
func (s *Service) WithCountries(c CountryChecker) *Service { s.countries = c; return s }

// WithLogger sets the structured logger. Nil restores the no-op logger.
func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l == nil {
		l = zap.NewNop()
	}
	s.log = l
	return s
}

// Postgres returns the attached pgx pool (may be nil).
func (s *Service) Postgres() *pgxpool.Pool { return s.pg }

// Codes returns the attached code store (may be nil).
func (s *Service) Codes() CodeStore { return s.codes }

var phoneE164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// RequestPhoneCode asks the provider to send its native SMS code after
// checking the dialing-code allow-list.
func (s *Service) RequestPhoneCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if !phoneE164.MatchString(phone) {
		return fmt.Errorf("%w: %q is not E.164", ErrUnsupportedRegion, phone)
	}
	if s.countries != nil {
		ok, err := s.countries.Supported(ctx, phone)
		if err != nil {
			return fmt.Errorf("%w: country lookup: %v", ErrProvider, err)
		}
		if !ok {
			return ErrUnsupportedRegion
		}
	}
	if err := s.provider.SendOTP(ctx, phone, ChannelSMS); err != nil {
		return wrapProvider(err)
	}
	s.log.Info("phone code requested", zap.String("phone", phone))
	return nil
}

// RequestEmailCode registers email+password with the provider (which creates
// the identity in provider storage), mirrors the identity locally, then
// issues and dispatches a custom verification code. Delivery failures are
// logged, not fatal: the provider-native code remains a fallback.
func (s *Service) RequestEmailCode(ctx context.Context, email, password string) (*Identity, error) {
	pid, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, wrapProvider(err)
	}
	id, err := s.ensureIdentity(ctx, pid.Subject, EmailContact(email), false, "")
	if err != nil {
		return nil, err
	}
	if err := s.issueAndDispatch(ctx, PurposeEmailVerification, EmailContact(email), id.ID, TemplateOTP); err != nil {
		s.log.Warn("verification code dispatch failed", zap.String("email", normalizeEmail(email)), zap.Error(err))
	}
	return id, nil
}

// VerifiedVia records which mechanism consumed the code.
type VerifiedVia string

const (
	ViaCustomStore VerifiedVia = "custom"
	ViaProvider    VerifiedVia = "provider"
)

// VerifyCode validates a one-time code for the contact. The email channel
// tries the custom store first and falls back to the provider only on
// ErrCodeNotFound; trying both unconditionally risks double side effects.
// The sms channel is provider-only. Success on the email channel flips the
// mirrored email_verified flag exactly once.
func (s *Service) VerifyCode(ctx context.Context, contact, code string, channel Channel) (*Identity, VerifiedVia, error) {
	switch channel {
	case ChannelEmail:
		return s.verifyEmailCode(ctx, contact, code)
	case ChannelSMS:
		return s.verifyPhoneCode(ctx, contact, code)
	default:
		return nil, "", fmt.Errorf("unknown channel %q", channel)
	}
}

func (s *Service) verifyEmailCode(ctx context.Context, email, code string) (*Identity, VerifiedVia, error) {
	via := ViaCustomStore
	_, err := s.codes.Verify(ctx, PurposeEmailVerification, EmailContact(email), code)
	switch {
	case err == nil:
	case errors.Is(err, ErrCodeNotFound):
		via = ViaProvider
		if _, perr := s.provider.VerifyOTP(ctx, email, code, ChannelEmail); perr != nil {
			return nil, "", wrapVerify(perr)
		}
	default:
		return nil, "", err
	}
	if err := s.MarkEmailVerified(ctx, email); err != nil {
		return nil, "", err
	}
	id, err := s.identities.ByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if id == nil {
		// Verified before registration completed; mirror now so downstream
		// routing has an identity to gate on.
		id, err = s.ensureIdentity(ctx, "", EmailContact(email), true, "")
		if err != nil {
			return nil, "", err
		}
	}
	s.log.Info("email verified", zap.String("email", normalizeEmail(email)), zap.String("via", string(via)))
	return id, via, nil
}

func (s *Service) verifyPhoneCode(ctx context.Context, phone, code string) (*Identity, VerifiedVia, error) {
	pid, err := s.provider.VerifyOTP(ctx, phone, code, ChannelSMS)
	if err != nil {
		return nil, "", wrapVerify(err)
	}
	id, err := s.identities.ByPhone(ctx, phone)
	if err != nil {
		return nil, "", err
	}
	if id == nil {
		id, err = s.ensureIdentity(ctx, pid.Subject, PhoneContact(phone), false, "")
		if err != nil {
			return nil, "", err
		}
	}
	s.log.Info("phone verified", zap.String("phone", phone))
	return id, ViaProvider, nil
}

// SignInWithPassword performs the provider password grant, then enforces the
// local email-verified flag. When the flag is false a fresh code is issued
// and emailed before ErrEmailNotVerified is returned, so the caller can route
// straight to verification.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	pid, err := s.provider.PasswordGrant(ctx, email, password)
	if err != nil {
		return nil, wrapProvider(err)
	}
	id, err := s.identities.ByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if id == nil {
		id, err = s.ensureIdentity(ctx, pid.Subject, EmailContact(email), pid.EmailConfirmed, "")
		if err != nil {
			return nil, err
		}
	}
	if !id.EmailVerified {
		if derr := s.issueAndDispatch(ctx, PurposeEmailVerification, EmailContact(email), id.ID, TemplateOTP); derr != nil {
			s.log.Warn("verification code dispatch failed", zap.String("email", normalizeEmail(email)), zap.Error(derr))
		}
		return nil, ErrEmailNotVerified
	}
	return id, nil
}

// HandleOAuthCallback upserts the local mirror for an OAuth identity.
// Idempotent: an existing mirror is returned untouched; a new one is created
// pre-verified. A provider subject that is not a UUID is replaced with a
// generated one.
func (s *Service) HandleOAuthCallback(ctx context.Context, pid ProviderIdentity) (*Identity, error) {
	if pid.Email == "" {
		return nil, fmt.Errorf("oauth identity has no email")
	}
	existing, err := s.identities.ByEmail(ctx, pid.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	subject := pid.Subject
	if _, err := uuid.Parse(subject); err != nil {
		subject = uuid.NewString()
		s.log.Debug("generated id for oauth identity", zap.String("provider", pid.Provider))
	}
	id, err := s.ensureIdentity(ctx, subject, EmailContact(pid.Email), true, pid.Provider)
	if err != nil {
		return nil, err
	}
	s.log.Info("oauth identity mirrored", zap.String("provider", pid.Provider), zap.String("id", id.ID))
	return id, nil
}

// RequestPasswordReset issues a custom reset code for a known identity and
// dispatches the password-reset-otp template.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	id, err := s.identities.ByEmail(ctx, email)
	if err != nil {
		return err
	}
	if id == nil {
		return ErrIdentityNotFound
	}
	return s.issueAndDispatch(ctx, PurposePasswordReset, EmailContact(email), id.ID, TemplatePasswordResetOTP)
}

// VerifyPasswordResetCode consumes a reset code from the custom store. The
// reset path never falls back to the provider, so ErrCodeNotFound surfaces.
func (s *Service) VerifyPasswordResetCode(ctx context.Context, email, code string) error {
	_, err := s.codes.Verify(ctx, PurposePasswordReset, EmailContact(email), code)
	return err
}

// ConfirmPasswordReset verifies the reset code and, if it consumes, sets the
// new provider password in one step. The two-phase variant (verify, then
// update after the user typed a new password) lives in the flow machine.
func (s *Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := s.VerifyPasswordResetCode(ctx, email, code); err != nil {
		return err
	}
	return s.UpdatePassword(ctx, email, newPassword)
}

// UpdatePassword force-sets the provider password for the account matching
// email. The caller is not authenticated at this point; the flow gates this
// behind a verified reset code.
func (s *Service) UpdatePassword(ctx context.Context, email, newPassword string) error {
	if err := s.provider.UpdatePasswordByEmail(ctx, email, newPassword); err != nil {
		return wrapProvider(err)
	}
	s.log.Info("password updated", zap.String("email", normalizeEmail(email)))
	return nil
}

// ResendCode issues a fresh code and dispatches it. Earlier codes stay valid.
func (s *Service) ResendCode(ctx context.Context, purpose CodePurpose, contact Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	template := TemplateOTP
	if purpose == PurposePasswordReset {
		template = TemplatePasswordResetOTP
	}
	identityID := ""
	if contact.IsEmail() {
		if id, err := s.identities.ByEmail(ctx, contact.Email); err == nil && id != nil {
			identityID = id.ID
		}
	} else {
		if id, err := s.identities.ByPhone(ctx, contact.Phone); err == nil && id != nil {
			identityID = id.ID
		}
	}
	return s.issueAndDispatch(ctx, purpose, contact, identityID, template)
}

// MarkEmailVerified flips the mirrored flag. The transition is one-way.
func (s *Service) MarkEmailVerified(ctx context.Context, email string) error {
	return s.identities.SetEmailVerified(ctx, email, true)
}

// CheckEmailExists reports whether a mirror row holds the email.
func (s *Service) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	id, err := s.identities.ByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	return id != nil, nil
}

// CheckUsername reports whether the username is still free. Advisory only;
// CompleteProfile relies on the storage constraint.
func (s *Service) CheckUsername(ctx context.Context, username string) (bool, error) {
	taken, err := s.profiles.UsernameExists(ctx, username)
	return !taken, err
}

// IdentityByEmail returns the mirror row or (nil, nil).
func (s *Service) IdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.identities.ByEmail(ctx, email)
}

// IdentityByPhone returns the mirror row or (nil, nil).
func (s *Service) IdentityByPhone(ctx context.Context, phone string) (*Identity, error) {
	return s.identities.ByPhone(ctx, phone)
}

// IdentityForProvider resolves the local mirror for a provider identity,
// trying the subject id first, then email, then phone. Returns (nil, nil)
// when no mirror exists.
func (s *Service) IdentityForProvider(ctx context.Context, pid *ProviderIdentity) (*Identity, error) {
	if pid == nil {
		return nil, nil
	}
	if pid.Subject != "" {
		if id, err := s.identities.ByID(ctx, pid.Subject); err != nil || id != nil {
			return id, err
		}
	}
	if pid.Email != "" {
		if id, err := s.identities.ByEmail(ctx, pid.Email); err != nil || id != nil {
			return id, err
		}
	}
	if pid.Phone != "" {
		return s.identities.ByPhone(ctx, pid.Phone)
	}
	return nil, nil
}

// LookupProfile is the profile existence gate. A profile with is_active=false
// is reported as absent: deactivation routes back through onboarding.
func (s *Service) LookupProfile(ctx context.Context, identityID string) (*Profile, error) {
	p, err := s.profiles.ByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.IsActive {
		return nil, nil
	}
	return p, nil
}

// CompleteProfile creates the application profile. The username pre-check is
// best-effort under concurrency; the unique constraint in the store decides,
// surfacing ErrUsernameTaken. Sends the welcome template on success.
func (s *Service) CompleteProfile(ctx context.Context, in ProfileInput) (*Profile, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	taken, err := s.profiles.UsernameExists(ctx, in.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	p := &Profile{
		IdentityID:  in.IdentityID,
		UserType:    in.UserType,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		CompanyName: strptr(strings.TrimSpace(in.CompanyName)),
		Username:    strings.TrimSpace(in.Username),
		CountryCode: strptr(in.CountryCode),
		City:        strptr(in.City),
		AvatarURL:   strptr(in.AvatarURL),
		IsActive:    true,
	}
	if err := s.profiles.Insert(ctx, p); err != nil {
		return nil, err
	}
	if id, err := s.identities.ByID(ctx, in.IdentityID); err == nil && id != nil && id.Email != nil {
		s.sendEmail(ctx, *id.Email, TemplateWelcome, map[string]string{"username": p.Username})
	}
	s.log.Info("profile completed", zap.String("identity", in.IdentityID), zap.String("username", p.Username))
	return p, nil
}

// ensureIdentity inserts a mirror row if absent and returns the current row.
// Never overwrites existing fields.
func (s *Service) ensureIdentity(ctx context.Context, subject string, contact Contact, emailVerified bool, authProvider string) (*Identity, error) {
	if subject == "" {
		subject = uuid.NewString()
	}
	id := &Identity{ID: subject, EmailVerified: emailVerified, AuthProvider: strptr(authProvider)}
	if contact.IsEmail() {
		id.Email = strptr(contact.Email)
	} else {
		id.Phone = strptr(contact.Phone)
	}
	if err := s.identities.Insert(ctx, id); err != nil {
		return nil, err
	}
	if contact.IsEmail() {
		return s.identities.ByEmail(ctx, contact.Email)
	}
	return s.identities.ByPhone(ctx, contact.Phone)
}

func (s *Service) issueAndDispatch(ctx context.Context, purpose CodePurpose, contact Contact, identityID string, template EmailTemplate) error {
	code, err := s.codes.Issue(ctx, purpose, contact, identityID)
	if err != nil {
		return err
	}
	if contact.IsEmail() {
		s.sendEmail(ctx, contact.Email, template, map[string]string{"code": code})
		return nil
	}
	if s.sms != nil {
		return s.sms.SendCode(ctx, contact.Phone, code)
	}
	s.log.Info("dev-sms", zap.String("phone", contact.Phone), zap.String("code", code))
	return nil
}

func (s *Service) sendEmail(ctx context.Context, to string, template EmailTemplate, data map[string]string) {
	if s.email != nil {
		if err := s.email.Send(ctx, to, template, data); err != nil {
			s.log.Warn("email send failed", zap.String("to", to), zap.String("template", string(template)), zap.Error(err))
		}
		return
	}
	s.log.Info("dev-email", zap.String("to", to), zap.String("template", string(template)), zap.Any("data", data))
}

// wrapVerify classifies a provider OTP verification failure. Provider-side
// trouble keeps its ErrProvider classification so callers can retry;
// everything else reads as a rejected code.
func wrapVerify(err error) error {
	if errors.Is(err, ErrInvalidOrExpiredCode) || errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidOrExpiredCode, err)
}

func wrapProvider(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrProvider) || errors.Is(err, ErrInvalidOrExpiredCode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProvider, err)
}
