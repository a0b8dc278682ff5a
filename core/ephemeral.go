package core

import (
	"context"
	"time"
)

// EphemeralStore is a minimal key-value surface for short-lived auth state
// (flow instances, resend cooldowns, OAuth state). Implementations honor TTL
// on Set and report missing keys as (found=false, err=nil). storage/memory
// and storage/redis provide the two implementations.
type EphemeralStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
