// Package flow is the verification state machine shared by phone login,
// email registration and password reset. One parameterized machine replaces
// the per-screen variants: a flow instance is keyed by its kind and contact,
// walks Idle -> CodeRequested -> AwaitingInput -> Verifying -> Verified or
// Failed, and persists each transition in the ephemeral store so it can be
// resumed by id.
package flow

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
)

type Kind string

const (
	KindEmailRegistration Kind = "email_registration"
	KindPasswordReset     Kind = "password_reset"
	KindPhoneLogin        Kind = "phone_login"
)

type State string

const (
	StateIdle          State = "idle"
	StateCodeRequested State = "code_requested"
	StateAwaitingInput State = "awaiting_input"
	StateVerifying     State = "verifying"
	StateVerified      State = "verified"
	StateFailed        State = "failed"
)

// Route is where the client goes after Verified.
type Route string

const (
	RouteNone            Route = ""
	RouteEnterApp        Route = "enter_app"
	RouteCompleteProfile Route = "complete_profile"
	RouteSetNewPassword  Route = "set_new_password"
)

var (
	// ErrResendThrottled rejects a resend inside the cooldown window.
	ErrResendThrottled = errors.New("resend throttled")

	// ErrNotFound means no flow instance matches the id (or it expired).
	ErrNotFound = errors.New("flow not found")

	// ErrInvalidTransition rejects an operation the current state does not
	// allow, e.g. verifying a flow that is already Verified.
	ErrInvalidTransition = errors.New("invalid flow transition")
)

// Instance is one flow's persisted state.
type Instance struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	Contact    string           `json:"contact"`
	State      State            `json:"state"`
	Route      Route            `json:"route,omitempty"`
	Via        core.VerifiedVia `json:"via,omitempty"`
	IdentityID string           `json:"identity_id,omitempty"`
	Attempts   int              `json:"attempts"`
	LastSentAt time.Time        `json:"last_sent_at"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Machine drives flow instances against the auth core.
type Machine struct {
	svc      *core.Service
	store    core.EphemeralStore
	cooldown time.Duration
	ttl      time.Duration
	log      *zap.Logger
}

func NewMachine(svc *core.Service, store core.EphemeralStore) *Machine {
	return &Machine{
		svc:      svc,
		store:    store,
		cooldown: 60 * time.Second,
		ttl:      30 * time.Minute,
		log:      zap.NewNop(),
	}
}

// WithCooldown overrides the 60-second resend window.
func (m *Machine) WithCooldown(d time.Duration) *Machine { m.cooldown = d; return m }

// WithLogger sets the structured logger.
func (m *Machine) WithLogger(l *zap.Logger) *Machine {
	if l == nil {
		l = zap.NewNop()
	}
	m.log = l
	return m
}

// StartEmailRegistration signs the user up with the provider and dispatches
// the first verification code. The password is forwarded to the provider and
// never persisted in flow state.
func (m *Machine) StartEmailRegistration(ctx context.Context, email, password string) (*Instance, error) {
	return m.start(ctx, KindEmailRegistration, email, func() error {
		_, err := m.svc.RequestEmailCode(ctx, email, password)
		return err
	})
}

// StartPasswordReset issues a reset code from the custom store.
func (m *Machine) StartPasswordReset(ctx context.Context, email string) (*Instance, error) {
	return m.start(ctx, KindPasswordReset, email, func() error {
		return m.svc.RequestPasswordReset(ctx, email)
	})
}

// StartPhoneLogin requests a provider-native SMS code.
func (m *Machine) StartPhoneLogin(ctx context.Context, phone string) (*Instance, error) {
	return m.start(ctx, KindPhoneLogin, phone, func() error {
		return m.svc.RequestPhoneCode(ctx, phone)
	})
}

func (m *Machine) start(ctx context.Context, kind Kind, contact string, send func() error) (*Instance, error) {
	inst := &Instance{
		ID:        newFlowID(),
		Kind:      kind,
		Contact:   contact,
		State:     StateCodeRequested,
		CreatedAt: time.Now(),
	}
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}
	if err := send(); err != nil {
		return m.fail(ctx, inst, err)
	}
	inst.State = StateAwaitingInput
	inst.LastSentAt = time.Now()
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}
	_ = m.store.Set(ctx, m.cooldownKey(inst), []byte("1"), m.cooldown)
	m.log.Info("flow started", zap.String("flow", inst.ID), zap.String("kind", string(kind)))
	return inst, nil
}

// Resend issues a fresh code for an in-flight flow. Earlier codes are not
// revoked. Allowed only after the cooldown window; the window is tracked in
// the ephemeral store so it survives across flow instances for the same
// contact.
func (m *Machine) Resend(ctx context.Context, id string) (*Instance, error) {
	inst, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inst.State {
	case StateAwaitingInput, StateFailed, StateCodeRequested:
	default:
		return inst, fmt.Errorf("%w: resend from %s", ErrInvalidTransition, inst.State)
	}
	if _, throttled, _ := m.store.Get(ctx, m.cooldownKey(inst)); throttled {
		return inst, ErrResendThrottled
	}

	var send func() error
	switch inst.Kind {
	case KindEmailRegistration:
		send = func() error {
			return m.svc.ResendCode(ctx, core.PurposeEmailVerification, core.EmailContact(inst.Contact))
		}
	case KindPasswordReset:
		send = func() error {
			return m.svc.ResendCode(ctx, core.PurposePasswordReset, core.EmailContact(inst.Contact))
		}
	case KindPhoneLogin:
		send = func() error { return m.svc.RequestPhoneCode(ctx, inst.Contact) }
	default:
		return inst, fmt.Errorf("unknown flow kind %q", inst.Kind)
	}
	if err := send(); err != nil {
		return m.fail(ctx, inst, err)
	}
	inst.State = StateAwaitingInput
	inst.LastSentAt = time.Now()
	inst.LastError = ""
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}
	_ = m.store.Set(ctx, m.cooldownKey(inst), []byte("1"), m.cooldown)
	return inst, nil
}

// Verify checks the submitted code. On success the flow becomes Verified and
// carries the post-verification route: password resets proceed to the
// set-new-password step, everything else runs the profile gate. On failure
// the flow parks in Failed; Retry or Resend moves it on.
func (m *Machine) Verify(ctx context.Context, id, code string) (*Instance, error) {
	inst, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.State != StateAwaitingInput {
		return inst, fmt.Errorf("%w: verify from %s", ErrInvalidTransition, inst.State)
	}
	inst.State = StateVerifying
	inst.Attempts++
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}

	var identity *core.Identity
	var via core.VerifiedVia
	var verr error
	switch inst.Kind {
	case KindEmailRegistration:
		identity, via, verr = m.svc.VerifyCode(ctx, inst.Contact, code, core.ChannelEmail)
	case KindPasswordReset:
		via = core.ViaCustomStore
		verr = m.svc.VerifyPasswordResetCode(ctx, inst.Contact, code)
	case KindPhoneLogin:
		identity, via, verr = m.svc.VerifyCode(ctx, inst.Contact, code, core.ChannelSMS)
	default:
		verr = fmt.Errorf("unknown flow kind %q", inst.Kind)
	}
	if verr != nil {
		return m.fail(ctx, inst, verr)
	}

	inst.State = StateVerified
	inst.Via = via
	inst.LastError = ""
	if identity != nil {
		inst.IdentityID = identity.ID
	}
	if inst.Kind == KindPasswordReset {
		inst.Route = RouteSetNewPassword
	} else if identity != nil {
		// A gate failure here must not strand the flow in Verifying; park it
		// in Failed so Retry/Resend stay available.
		profile, err := m.svc.LookupProfile(ctx, identity.ID)
		if err != nil {
			return m.fail(ctx, inst, err)
		}
		if profile != nil {
			inst.Route = RouteEnterApp
		} else {
			inst.Route = RouteCompleteProfile
		}
	}
	if err := m.save(ctx, inst); err != nil {
		return m.fail(ctx, inst, err)
	}
	m.log.Info("flow verified", zap.String("flow", inst.ID), zap.String("via", string(via)), zap.String("route", string(inst.Route)))
	return inst, nil
}

// Retry returns a Failed flow to AwaitingInput so the user can re-enter the
// code without a resend.
func (m *Machine) Retry(ctx context.Context, id string) (*Instance, error) {
	inst, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.State != StateFailed {
		return inst, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, inst.State)
	}
	inst.State = StateAwaitingInput
	inst.LastError = ""
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// CompletePasswordReset sets the new provider password for a Verified
// password-reset flow.
func (m *Machine) CompletePasswordReset(ctx context.Context, id, newPassword string) (*Instance, error) {
	inst, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Kind != KindPasswordReset || inst.State != StateVerified {
		return inst, fmt.Errorf("%w: password update from %s/%s", ErrInvalidTransition, inst.Kind, inst.State)
	}
	if err := m.svc.UpdatePassword(ctx, inst.Contact, newPassword); err != nil {
		return inst, err
	}
	inst.Route = RouteEnterApp
	if err := m.save(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Get loads a flow instance by id.
func (m *Machine) Get(ctx context.Context, id string) (*Instance, error) {
	b, ok, err := m.store.Get(ctx, instanceKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var inst Instance
	if err := json.Unmarshal(b, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// fail parks the flow in Failed. A context that expired mid-operation is
// reported as core.ErrTimeout so the flow never hangs in Verifying or
// CodeRequested.
func (m *Machine) fail(ctx context.Context, inst *Instance, cause error) (*Instance, error) {
	if ctx.Err() != nil {
		cause = fmt.Errorf("%w: %v", core.ErrTimeout, cause)
		ctx = context.WithoutCancel(ctx)
	}
	inst.State = StateFailed
	inst.LastError = cause.Error()
	if err := m.save(ctx, inst); err != nil {
		m.log.Warn("flow state save failed", zap.String("flow", inst.ID), zap.Error(err))
	}
	m.log.Info("flow failed", zap.String("flow", inst.ID), zap.String("kind", string(inst.Kind)), zap.Error(cause))
	return inst, cause
}

func (m *Machine) save(ctx context.Context, inst *Instance) error {
	b, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, instanceKey(inst.ID), b, m.ttl)
}

func (m *Machine) cooldownKey(inst *Instance) string {
	return "authflow:cooldown:" + string(inst.Kind) + ":" + inst.Contact
}

func instanceKey(id string) string { return "authflow:inst:" + id }

func newFlowID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return base58.Encode(b)
}
