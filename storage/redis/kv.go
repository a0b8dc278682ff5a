// Package redisstore backs core.EphemeralStore with Redis for multi-process
// deployments.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a Redis-backed TTL key-value store implementing core.EphemeralStore.
type KV struct {
	rdb *redis.Client
}

func NewKV(rdb *redis.Client) *KV { return &KV{rdb: rdb} }

// NewKVFromAddr dials addr (host:port) with default options.
func NewKVFromAddr(addr string) *KV {
	return &KV{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *KV) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
