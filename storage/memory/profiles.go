package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/gurbetci/authcore/core"
)

// Profiles implements core.ProfileStore. Username uniqueness is enforced at
// insert, mirroring the Postgres unique constraint.
type Profiles struct {
	mu         sync.Mutex
	byIdentity map[string]*core.Profile
	usernames  map[string]struct{}
}

func NewProfiles() *Profiles {
	return &Profiles{
		byIdentity: make(map[string]*core.Profile),
		usernames:  make(map[string]struct{}),
	}
}

func (s *Profiles) ByIdentity(ctx context.Context, identityID string) (*core.Profile, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byIdentity[identityID]; ok {
		out := *p
		return &out, nil
	}
	return nil, nil
}

func (s *Profiles) UsernameExists(ctx context.Context, username string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.usernames[username]
	return ok, nil
}

func (s *Profiles) Insert(ctx context.Context, p *core.Profile) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[p.Username]; ok {
		return core.ErrUsernameTaken
	}
	rec := *p
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.byIdentity[rec.IdentityID] = &rec
	s.usernames[rec.Username] = struct{}{}
	return nil
}

// SetActive flips a stored profile's active flag (test/dev helper; the
// deactivation itself is an administrative action outside this core).
func (s *Profiles) SetActive(identityID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byIdentity[identityID]; ok {
		p.IsActive = active
	}
}
