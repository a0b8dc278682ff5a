package memorystore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gurbetci/authcore/core"
)

// Identities implements core.IdentityStore over a mutex-guarded map.
type Identities struct {
	mu   sync.Mutex
	byID map[string]*core.Identity
}

func NewIdentities() *Identities {
	return &Identities{byID: make(map[string]*core.Identity)}
}

func (s *Identities) ByID(ctx context.Context, id string) (*core.Identity, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byID[id]; ok {
		out := *rec
		return &out, nil
	}
	return nil, nil
}

func (s *Identities) ByEmail(ctx context.Context, email string) (*core.Identity, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, rec := range s.byID {
		if rec.Email != nil && strings.ToLower(*rec.Email) == email {
			out := *rec
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Identities) ByPhone(ctx context.Context, phone string) (*core.Identity, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.byID {
		if rec.Phone != nil && *rec.Phone == phone {
			out := *rec
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Identities) Insert(ctx context.Context, id *core.Identity) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id.ID]; ok {
		return nil
	}
	rec := *id
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Email != nil {
		email := strings.ToLower(*rec.Email)
		rec.Email = &email
	}
	s.byID[rec.ID] = &rec
	return nil
}

func (s *Identities) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, rec := range s.byID {
		if rec.Email != nil && strings.ToLower(*rec.Email) == email {
			rec.EmailVerified = verified
			rec.UpdatedAt = time.Now()
		}
	}
	return nil
}
