package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gurbetci/authcore/core"
	"github.com/gurbetci/authcore/flow"
	"github.com/gurbetci/authcore/otp"
	memorystore "github.com/gurbetci/authcore/storage/memory"
)

type stubProvider struct {
	verifyErr error
	sendErr   error
}

func (p *stubProvider) SignUp(_ context.Context, email, _ string) (*core.ProviderIdentity, error) {
	return &core.ProviderIdentity{Subject: "sub-" + email, Email: email}, nil
}

func (p *stubProvider) PasswordGrant(_ context.Context, email, _ string) (*core.ProviderIdentity, error) {
	return &core.ProviderIdentity{Subject: "sub-" + email, Email: email}, nil
}

func (p *stubProvider) SendOTP(context.Context, string, core.Channel) error { return p.sendErr }

func (p *stubProvider) VerifyOTP(_ context.Context, contact, _ string, _ core.Channel) (*core.ProviderIdentity, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return &core.ProviderIdentity{Subject: "sub-" + contact, Phone: contact}, nil
}

func (p *stubProvider) UpdatePasswordByEmail(context.Context, string, string) error { return nil }
func (p *stubProvider) RestoreSession(context.Context) (*core.ProviderIdentity, error) {
	return nil, nil
}
func (p *stubProvider) SignOut(context.Context) error { return nil }

type env struct {
	machine *flow.Machine
	svc     *core.Service
	codes   *otp.Memory
	stub    *stubProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	stub := &stubProvider{}
	codes := otp.NewMemory()
	svc := core.NewService().
		WithStores(memorystore.NewIdentities(), memorystore.NewProfiles()).
		WithCodeStore(codes).
		WithProvider(stub)
	machine := flow.NewMachine(svc, memorystore.NewKV())
	return &env{machine: machine, svc: svc, codes: codes, stub: stub}
}

func (e *env) code(t *testing.T, purpose core.CodePurpose, email string) string {
	t.Helper()
	code, ok := e.codes.LatestCode(purpose, core.EmailContact(email))
	require.True(t, ok, "no code outstanding for %s", email)
	return code
}

func TestEmailRegistrationFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, flow.StateAwaitingInput, inst.State)

	inst, err = e.machine.Verify(ctx, inst.ID, e.code(t, core.PurposeEmailVerification, "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, flow.StateVerified, inst.State)
	require.Equal(t, core.ViaCustomStore, inst.Via)
	require.Equal(t, flow.RouteCompleteProfile, inst.Route)
	require.NotEmpty(t, inst.IdentityID)
}

func TestVerifiedFlowRoutesToAppWhenProfileExists(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	id, err := e.svc.IdentityByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = e.svc.CompleteProfile(ctx, core.ProfileInput{
		IdentityID: id.ID, UserType: core.UserTypeIndividual,
		FirstName: "A", LastName: "B", Username: "ab1",
	})
	require.NoError(t, err)

	inst, err = e.machine.Verify(ctx, inst.ID, e.code(t, core.PurposeEmailVerification, "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, flow.RouteEnterApp, inst.Route)
}

func TestWrongCodeParksFlowInFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.stub.verifyErr = core.ErrInvalidOrExpiredCode

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	inst, err = e.machine.Verify(ctx, inst.ID, "000000")
	require.ErrorIs(t, err, core.ErrInvalidOrExpiredCode)
	require.Equal(t, flow.StateFailed, inst.State)
	require.NotEmpty(t, inst.LastError)

	// Retry re-arms input; the right code still works.
	inst, err = e.machine.Retry(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, flow.StateAwaitingInput, inst.State)

	inst, err = e.machine.Verify(ctx, inst.ID, e.code(t, core.PurposeEmailVerification, "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, flow.StateVerified, inst.State)
}

func TestResendThrottledInsideCooldown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	_, err = e.machine.Resend(ctx, inst.ID)
	require.ErrorIs(t, err, flow.ErrResendThrottled)
}

func TestResendAfterCooldownKeepsEarlierCodeValid(t *testing.T) {
	e := newEnv(t)
	e.machine.WithCooldown(time.Millisecond)
	ctx := context.Background()

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	first := e.code(t, core.PurposeEmailVerification, "a@example.com")

	time.Sleep(5 * time.Millisecond)
	inst, err = e.machine.Resend(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, flow.StateAwaitingInput, inst.State)

	inst, err = e.machine.Verify(ctx, inst.ID, first)
	require.NoError(t, err)
	require.Equal(t, flow.StateVerified, inst.State)
}

func TestPasswordResetFlowRoutesToNewPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A mirror must exist before a reset can start.
	_, err := e.svc.RequestEmailCode(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	inst, err := e.machine.StartPasswordReset(ctx, "a@example.com")
	require.NoError(t, err)

	inst, err = e.machine.Verify(ctx, inst.ID, e.code(t, core.PurposePasswordReset, "a@example.com"))
	require.NoError(t, err)
	require.Equal(t, flow.RouteSetNewPassword, inst.Route)

	inst, err = e.machine.CompletePasswordReset(ctx, inst.ID, "new-password-1")
	require.NoError(t, err)
	require.Equal(t, flow.RouteEnterApp, inst.Route)
}

func TestPasswordResetUnknownEmailFails(t *testing.T) {
	e := newEnv(t)
	inst, err := e.machine.StartPasswordReset(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, core.ErrIdentityNotFound)
	require.Equal(t, flow.StateFailed, inst.State)
}

func TestPhoneLoginFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.svc.WithCountries(allowAll{})

	inst, err := e.machine.StartPhoneLogin(ctx, "+48123456789")
	require.NoError(t, err)
	require.Equal(t, flow.StateAwaitingInput, inst.State)

	inst, err = e.machine.Verify(ctx, inst.ID, "123456")
	require.NoError(t, err)
	require.Equal(t, flow.StateVerified, inst.State)
	require.Equal(t, core.ViaProvider, inst.Via)
	require.Equal(t, flow.RouteCompleteProfile, inst.Route)
}

type allowAll struct{}

func (allowAll) Supported(context.Context, string) (bool, error) { return true, nil }

func TestExpiredContextFailsFlowWithTimeout(t *testing.T) {
	e := newEnv(t)
	e.stub.verifyErr = context.DeadlineExceeded

	inst, err := e.machine.StartEmailRegistration(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inst, err = e.machine.Verify(ctx, inst.ID, "999999")
	require.ErrorIs(t, err, core.ErrTimeout)
	require.Equal(t, flow.StateFailed, inst.State)
}

// flakyProfiles fails ByIdentity a configurable number of times before
// delegating to the real store.
type flakyProfiles struct {
	*memorystore.Profiles
	failures int
}

func (p *flakyProfiles) ByIdentity(ctx context.Context, identityID string) (*core.Profile, error) {
	if p.failures > 0 {
		p.failures--
		return nil, errors.New("profiles unavailable")
	}
	return p.Profiles.ByIdentity(ctx, identityID)
}

func TestGateFailureAfterConsumeParksInFailed(t *testing.T) {
	stub := &stubProvider{}
	codes := otp.NewMemory()
	profiles := &flakyProfiles{Profiles: memorystore.NewProfiles()}
	svc := core.NewService().
		WithStores(memorystore.NewIdentities(), profiles).
		WithCodeStore(codes).
		WithProvider(stub)
	machine := flow.NewMachine(svc, memorystore.NewKV()).WithCooldown(time.Millisecond)
	ctx := context.Background()

	inst, err := machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)
	code, ok := codes.LatestCode(core.PurposeEmailVerification, core.EmailContact("a@example.com"))
	require.True(t, ok)

	profiles.failures = 1
	_, err = machine.Verify(ctx, inst.ID, code)
	require.Error(t, err)

	// The code was consumed but the gate lookup broke; the persisted flow
	// must land in Failed, never in Verifying, so recovery stays possible.
	got, err := machine.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, flow.StateFailed, got.State)

	_, err = machine.Retry(ctx, inst.ID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = machine.Resend(ctx, inst.ID)
	require.NoError(t, err)
	code, ok = codes.LatestCode(core.PurposeEmailVerification, core.EmailContact("a@example.com"))
	require.True(t, ok)

	inst, err = machine.Verify(ctx, inst.ID, code)
	require.NoError(t, err)
	require.Equal(t, flow.StateVerified, inst.State)
	require.Equal(t, flow.RouteCompleteProfile, inst.Route)
}

func TestVerifyFromWrongState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inst, err := e.machine.StartEmailRegistration(ctx, "a@example.com", "pw")
	require.NoError(t, err)

	inst, err = e.machine.Verify(ctx, inst.ID, e.code(t, core.PurposeEmailVerification, "a@example.com"))
	require.NoError(t, err)

	_, err = e.machine.Verify(ctx, inst.ID, "123456")
	require.ErrorIs(t, err, flow.ErrInvalidTransition)
}

func TestGetUnknownFlow(t *testing.T) {
	e := newEnv(t)
	_, err := e.machine.Get(context.Background(), "missing")
	require.ErrorIs(t, err, flow.ErrNotFound)
}
