package otp

import (
	"context"
	"sync"
	"time"

	"github.com/gurbetci/authcore/core"
)

// Memory is an in-memory code store with the same semantics as Postgres.
// Single-process only; used by tests and the dev harness.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	rows   []*core.OneTimeCode

	// Now is overridable so expiry tests don't sleep.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{Now: time.Now}
}

func (s *Memory) Issue(ctx context.Context, purpose core.CodePurpose, contact core.Contact, identityID string) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.Now()
	rec := &core.OneTimeCode{
		ID:        s.nextID,
		Code:      core.GenerateCode(),
		Purpose:   purpose,
		ExpiresAt: now.Add(core.CodeTTL),
		CreatedAt: now,
	}
	if contact.IsEmail() {
		email := contact.Email
		rec.Email = &email
	} else {
		phone := contact.Phone
		rec.Phone = &phone
	}
	if identityID != "" {
		id := identityID
		rec.IdentityID = &id
	}
	s.rows = append(s.rows, rec)
	return rec.Code, nil
}

func (s *Memory) Verify(ctx context.Context, purpose core.CodePurpose, contact core.Contact, code string) (*core.OneTimeCode, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var match *core.OneTimeCode
	for _, rec := range s.rows {
		if rec.Used || rec.Code != code || rec.Purpose != purpose {
			continue
		}
		if !now.Before(rec.ExpiresAt) {
			continue
		}
		if contact.IsEmail() {
			if rec.Email == nil || *rec.Email != contact.Email {
				continue
			}
		} else {
			if rec.Phone == nil || *rec.Phone != contact.Phone {
				continue
			}
		}
		if match == nil || rec.CreatedAt.After(match.CreatedAt) {
			match = rec
		}
	}
	if match == nil {
		return nil, core.ErrCodeNotFound
	}
	match.Used = true
	out := *match
	return &out, nil
}

// LatestCode returns the newest unused, unexpired code for the contact.
// Demo and test helper; production codes only travel by email or SMS.
func (s *Memory) LatestCode(purpose core.CodePurpose, contact core.Contact) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var match *core.OneTimeCode
	for _, rec := range s.rows {
		if rec.Used || rec.Purpose != purpose || !now.Before(rec.ExpiresAt) {
			continue
		}
		if contact.IsEmail() {
			if rec.Email == nil || *rec.Email != contact.Email {
				continue
			}
		} else {
			if rec.Phone == nil || *rec.Phone != contact.Phone {
				continue
			}
		}
		if match == nil || rec.CreatedAt.After(match.CreatedAt) {
			match = rec
		}
	}
	if match == nil {
		return "", false
	}
	return match.Code, true
}

func (s *Memory) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var purged int64
	for _, rec := range s.rows {
		if rec.ExpiresAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.rows = kept
	return purged, nil
}
