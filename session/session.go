// Package session propagates the authenticated state (identity, gated
// profile, loading flag) to the rest of the application. The store owns one
// snapshot; consumers read Current or Subscribe for pushes on every change.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gurbetci/authcore/core"
)

// Event mirrors the auth state changes the identity provider emits.
type Event string

const (
	EventSignedIn       Event = "signed_in"
	EventSignedOut      Event = "signed_out"
	EventTokenRefreshed Event = "token_refreshed"
)

// Snapshot is the observable session state. Loading is true only during the
// initial restore; a nil Identity with Loading false means signed out. The
// Profile is gated: inactive profiles surface as nil.
type Snapshot struct {
	Identity *core.Identity
	Profile  *core.Profile
	Loading  bool
}

// SignedIn reports whether the snapshot carries an authenticated identity.
func (s Snapshot) SignedIn() bool { return s.Identity != nil }

// Store holds the current session snapshot and fans changes out to
// subscribers.
type Store struct {
	svc      *core.Service
	provider core.Provider
	log      *zap.Logger

	mu      sync.Mutex
	current Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

func New(svc *core.Service, provider core.Provider) *Store {
	return &Store{
		svc:      svc,
		provider: provider,
		log:      zap.NewNop(),
		current:  Snapshot{Loading: true},
		subs:     make(map[int]chan Snapshot),
	}
}

// WithLogger sets the structured logger.
func (s *Store) WithLogger(l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	s.log = l
	return s
}

// Current returns the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe returns a channel that receives every snapshot change, starting
// with the current one. Sends never block; a slow subscriber misses
// intermediate snapshots but always gets a fresh one eventually. Call cancel
// to release the subscription.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- s.current
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Restore rehydrates the session at startup. It asks the provider for a
// persisted session, resolves the identity mirror and runs the profile gate.
// Failures leave the session signed out rather than propagating: a broken
// restore must not wedge startup.
func (s *Store) Restore(ctx context.Context) Snapshot {
	s.set(Snapshot{Loading: true})

	pid, err := s.provider.RestoreSession(ctx)
	if err != nil || pid == nil {
		if err != nil {
			s.log.Warn("session restore failed", zap.Error(err))
		}
		return s.set(Snapshot{})
	}
	return s.resolve(ctx, pid)
}

// HandleAuthEvent applies a provider auth state change to the snapshot.
func (s *Store) HandleAuthEvent(ctx context.Context, ev Event, pid *core.ProviderIdentity) Snapshot {
	switch ev {
	case EventSignedOut:
		return s.set(Snapshot{})
	case EventSignedIn, EventTokenRefreshed:
		if pid == nil {
			return s.Current()
		}
		return s.resolve(ctx, pid)
	default:
		return s.Current()
	}
}

// SignOut clears the snapshot first, then tells the provider. Local state is
// gone even when the provider call fails.
func (s *Store) SignOut(ctx context.Context) error {
	s.set(Snapshot{})
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("provider sign-out failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) resolve(ctx context.Context, pid *core.ProviderIdentity) Snapshot {
	identity, err := s.svc.IdentityForProvider(ctx, pid)
	if err != nil || identity == nil {
		if err != nil {
			s.log.Warn("identity resolve failed", zap.Error(err))
		}
		return s.set(Snapshot{})
	}
	profile, err := s.svc.LookupProfile(ctx, identity.ID)
	if err != nil {
		s.log.Warn("profile lookup failed", zap.String("identity", identity.ID), zap.Error(err))
		profile = nil
	}
	return s.set(Snapshot{Identity: identity, Profile: profile})
}

func (s *Store) set(snap Snapshot) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drain the stale snapshot and replace it.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	return snap
}
