package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gurbetci/authcore/core"
	"github.com/gurbetci/authcore/otp"
	memorystore "github.com/gurbetci/authcore/storage/memory"
)

// fakeProvider implements core.Provider with overridable func fields.
type fakeProvider struct {
	signUp     func(ctx context.Context, email, password string) (*core.ProviderIdentity, error)
	grant      func(ctx context.Context, email, password string) (*core.ProviderIdentity, error)
	sendOTP    func(ctx context.Context, contact string, channel core.Channel) error
	verifyOTP  func(ctx context.Context, contact, code string, channel core.Channel) (*core.ProviderIdentity, error)
	updatePass func(ctx context.Context, email, newPassword string) error
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string) (*core.ProviderIdentity, error) {
	if f.signUp != nil {
		return f.signUp(ctx, email, password)
	}
	return &core.ProviderIdentity{Subject: "sub-" + email, Email: email}, nil
}

func (f *fakeProvider) PasswordGrant(ctx context.Context, email, password string) (*core.ProviderIdentity, error) {
	if f.grant != nil {
		return f.grant(ctx, email, password)
	}
	return &core.ProviderIdentity{Subject: "sub-" + email, Email: email}, nil
}

func (f *fakeProvider) SendOTP(ctx context.Context, contact string, channel core.Channel) error {
	if f.sendOTP != nil {
		return f.sendOTP(ctx, contact, channel)
	}
	return nil
}

func (f *fakeProvider) VerifyOTP(ctx context.Context, contact, code string, channel core.Channel) (*core.ProviderIdentity, error) {
	if f.verifyOTP != nil {
		return f.verifyOTP(ctx, contact, code, channel)
	}
	return &core.ProviderIdentity{Subject: "sub-" + contact}, nil
}

func (f *fakeProvider) UpdatePasswordByEmail(ctx context.Context, email, newPassword string) error {
	if f.updatePass != nil {
		return f.updatePass(ctx, email, newPassword)
	}
	return nil
}

func (f *fakeProvider) RestoreSession(context.Context) (*core.ProviderIdentity, error) {
	return nil, nil
}

func (f *fakeProvider) SignOut(context.Context) error { return nil }

// capturingSender records dispatched emails.
type capturingSender struct {
	sent []sentMail
}

type sentMail struct {
	to       string
	template core.EmailTemplate
	data     map[string]string
}

func (s *capturingSender) Send(_ context.Context, to string, template core.EmailTemplate, data map[string]string) error {
	s.sent = append(s.sent, sentMail{to: to, template: template, data: data})
	return nil
}

type fixture struct {
	svc      *core.Service
	codes    *otp.Memory
	profiles *memorystore.Profiles
	provider *fakeProvider
	mail     *capturingSender
}

func newFixture() *fixture {
	f := &fixture{
		codes:    otp.NewMemory(),
		profiles: memorystore.NewProfiles(),
		provider: &fakeProvider{},
		mail:     &capturingSender{},
	}
	f.svc = core.NewService().
		WithStores(memorystore.NewIdentities(), f.profiles).
		WithCodeStore(f.codes).
		WithProvider(f.provider).
		WithEmailSender(f.mail)
	return f
}

func (f *fixture) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.mail.sent, "no email dispatched")
	code := f.mail.sent[len(f.mail.sent)-1].data["code"]
	require.NotEmpty(t, code, "dispatched email carries no code")
	return code
}

func TestEmailRegistrationEndToEnd(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.RequestEmailCode(ctx, "New@Example.com", "hunter22")
	require.NoError(t, err)
	require.False(t, id.EmailVerified)
	require.Equal(t, core.TemplateOTP, f.mail.sent[0].template)

	verified, via, err := f.svc.VerifyCode(ctx, "new@example.com", f.lastCode(t), core.ChannelEmail)
	require.NoError(t, err)
	require.Equal(t, core.ViaCustomStore, via)
	require.True(t, verified.EmailVerified)

	// No profile yet: the gate reports absent.
	p, err := f.svc.LookupProfile(ctx, verified.ID)
	require.NoError(t, err)
	require.Nil(t, p)

	profile, err := f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: verified.ID,
		UserType:   core.UserTypeIndividual,
		FirstName:  "New",
		LastName:   "User",
		Username:   "newuser1",
	})
	require.NoError(t, err)
	require.True(t, profile.IsActive)

	p, err = f.svc.LookupProfile(ctx, verified.ID)
	require.NoError(t, err)
	require.NotNil(t, p)

	// Welcome mail followed the registration code.
	last := f.mail.sent[len(f.mail.sent)-1]
	require.Equal(t, core.TemplateWelcome, last.template)
}

func TestVerifyFallsBackToProvider(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	providerCalled := false
	f.provider.verifyOTP = func(_ context.Context, contact, code string, channel core.Channel) (*core.ProviderIdentity, error) {
		providerCalled = true
		return &core.ProviderIdentity{Subject: "sub-" + contact, Email: contact}, nil
	}

	// No custom code was ever issued for this address, so verification falls
	// through to the provider-native path.
	id, via, err := f.svc.VerifyCode(ctx, "fallback@example.com", "123456", core.ChannelEmail)
	require.NoError(t, err)
	require.True(t, providerCalled)
	require.Equal(t, core.ViaProvider, via)
	require.True(t, id.EmailVerified)
}

func TestVerifyWrongCodeBothMechanisms(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.provider.verifyOTP = func(context.Context, string, string, core.Channel) (*core.ProviderIdentity, error) {
		return nil, errors.New("otp_expired")
	}
	_, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	_, _, err = f.svc.VerifyCode(ctx, "a@example.com", "000000", core.ChannelEmail)
	require.ErrorIs(t, err, core.ErrInvalidOrExpiredCode)
}

func TestSignInUnverifiedReissuesCode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	sentBefore := len(f.mail.sent)

	_, err = f.svc.SignInWithPassword(ctx, "a@example.com", "pw")
	require.ErrorIs(t, err, core.ErrEmailNotVerified)
	require.Len(t, f.mail.sent, sentBefore+1, "sign-in should dispatch a fresh code")

	// Verify with the reissued code, then sign-in succeeds.
	_, _, err = f.svc.VerifyCode(ctx, "a@example.com", f.lastCode(t), core.ChannelEmail)
	require.NoError(t, err)
	id, err := f.svc.SignInWithPassword(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	require.True(t, id.EmailVerified)
}

func TestPasswordResetCodeIsSingleUse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@example.com"))
	require.Equal(t, core.TemplatePasswordResetOTP, f.mail.sent[len(f.mail.sent)-1].template)
	code := f.lastCode(t)

	require.NoError(t, f.svc.VerifyPasswordResetCode(ctx, "a@example.com", code))
	err = f.svc.VerifyPasswordResetCode(ctx, "a@example.com", code)
	require.ErrorIs(t, err, core.ErrCodeNotFound)
}

func TestConfirmPasswordReset(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var updated string
	f.provider.updatePass = func(_ context.Context, _, newPassword string) error {
		updated = newPassword
		return nil
	}

	_, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "a@example.com"))
	code := f.lastCode(t)

	require.NoError(t, f.svc.ConfirmPasswordReset(ctx, "a@example.com", code, "brand-new"))
	require.Equal(t, "brand-new", updated)

	// The consumed code cannot confirm a second reset.
	err = f.svc.ConfirmPasswordReset(ctx, "a@example.com", code, "again")
	require.ErrorIs(t, err, core.ErrCodeNotFound)
}

func TestPasswordResetUnknownIdentity(t *testing.T) {
	f := newFixture()
	err := f.svc.RequestPasswordReset(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, core.ErrIdentityNotFound)
}

func TestInactiveProfileReadsAsAbsent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	_, err = f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: id.ID,
		UserType:   core.UserTypeIndividual,
		FirstName:  "A",
		LastName:   "B",
		Username:   "ab1",
	})
	require.NoError(t, err)

	f.profiles.SetActive(id.ID, false)
	p, err := f.svc.LookupProfile(ctx, id.ID)
	require.NoError(t, err)
	require.Nil(t, p, "inactive profile must gate as absent")
}

func TestCorporateProfileCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.RequestEmailCode(ctx, "biz@example.com", "pw")
	require.NoError(t, err)

	// Corporate profiles need a company name; first attempt omits it.
	_, err = f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: id.ID,
		UserType:   core.UserTypeCorporate,
		Username:   "acme1",
	})
	require.Error(t, err)

	profile, err := f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID:  id.ID,
		UserType:    core.UserTypeCorporate,
		CompanyName: "Acme Trading Co",
		Username:    core.GenerateBrandUsername("Acme Trading Co"),
		AvatarURL:   core.InitialsAvatar("Acme", "Trading"),
	})
	require.NoError(t, err)
	require.Equal(t, core.UserTypeCorporate, profile.UserType)
	require.True(t, strings.HasPrefix(profile.Username, "acmetradingco"))
	require.NotNil(t, profile.AvatarURL)
	require.Equal(t, "AT", *profile.AvatarURL)
}

func TestUsernameTaken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	b, err := f.svc.RequestEmailCode(ctx, "b@example.com", "pw")
	require.NoError(t, err)

	_, err = f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: a.ID, UserType: core.UserTypeIndividual,
		FirstName: "A", LastName: "A", Username: "shared",
	})
	require.NoError(t, err)

	_, err = f.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: b.ID, UserType: core.UserTypeIndividual,
		FirstName: "B", LastName: "B", Username: "shared",
	})
	require.ErrorIs(t, err, core.ErrUsernameTaken)

	free, err := f.svc.CheckUsername(ctx, "shared")
	require.NoError(t, err)
	require.False(t, free)
}

func TestOAuthCallbackMirrorsPreVerified(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	id, err := f.svc.HandleOAuthCallback(ctx, core.ProviderIdentity{
		Subject:  "not-a-uuid",
		Email:    "g@example.com",
		Provider: "google",
	})
	require.NoError(t, err)
	require.True(t, id.EmailVerified)
	require.NotEqual(t, "not-a-uuid", id.ID, "non-uuid subject must be replaced")

	// Idempotent: a second callback returns the same mirror.
	again, err := f.svc.HandleOAuthCallback(ctx, core.ProviderIdentity{
		Subject:  "different",
		Email:    "g@example.com",
		Provider: "google",
	})
	require.NoError(t, err)
	require.Equal(t, id.ID, again.ID)
}

func TestPhoneVerifyMirrorsIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.provider.verifyOTP = func(_ context.Context, contact, _ string, _ core.Channel) (*core.ProviderIdentity, error) {
		return &core.ProviderIdentity{Subject: "11111111-1111-1111-1111-111111111111", Phone: contact}, nil
	}
	id, via, err := f.svc.VerifyCode(ctx, "+48123456789", "123456", core.ChannelSMS)
	require.NoError(t, err)
	require.Equal(t, core.ViaProvider, via)
	require.NotNil(t, id.Phone)
	require.Equal(t, "+48123456789", *id.Phone)
}

func TestRequestPhoneCodeRegionGate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.svc.WithCountries(allowOnly{"+48"})

	require.NoError(t, f.svc.RequestPhoneCode(ctx, "+48123456789"))
	err := f.svc.RequestPhoneCode(ctx, "+1555123456")
	require.ErrorIs(t, err, core.ErrUnsupportedRegion)
	err = f.svc.RequestPhoneCode(ctx, "not-a-number")
	require.ErrorIs(t, err, core.ErrUnsupportedRegion)
}

type allowOnly []string

func (a allowOnly) Supported(_ context.Context, phone string) (bool, error) {
	for _, prefix := range a {
		if len(phone) >= len(prefix) && phone[:len(prefix)] == prefix {
			return true, nil
		}
	}
	return false, nil
}

func TestProviderOutageDuringVerifyKeepsClassification(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.provider.verifyOTP = func(context.Context, string, string, core.Channel) (*core.ProviderIdentity, error) {
		return nil, fmt.Errorf("%w: status 502", core.ErrProvider)
	}

	// A provider outage is retryable and must not read as a rejected code.
	_, _, err := f.svc.VerifyCode(ctx, "a@example.com", "123456", core.ChannelEmail)
	require.ErrorIs(t, err, core.ErrProvider)
	require.NotErrorIs(t, err, core.ErrInvalidOrExpiredCode)

	_, _, err = f.svc.VerifyCode(ctx, "+48123456789", "123456", core.ChannelSMS)
	require.ErrorIs(t, err, core.ErrProvider)
	require.NotErrorIs(t, err, core.ErrInvalidOrExpiredCode)
}

func TestProviderFailureWraps(t *testing.T) {
	f := newFixture()
	f.provider.signUp = func(context.Context, string, string) (*core.ProviderIdentity, error) {
		return nil, errors.New("upstream 500")
	}
	_, err := f.svc.RequestEmailCode(context.Background(), "a@example.com", "pw")
	require.ErrorIs(t, err, core.ErrProvider)
}
