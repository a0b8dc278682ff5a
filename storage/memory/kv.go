// Package memorystore holds single-process implementations of the core
// storage interfaces, used by tests and the dev harness.
package memorystore

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// KV is an in-memory TTL key-value store implementing core.EphemeralStore.
// Expired entries are dropped lazily on read.
type KV struct {
	mu   sync.Mutex
	data map[string]entry
}

func NewKV() *KV {
	return &KV{data: make(map[string]entry)}
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !time.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
