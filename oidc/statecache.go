package oidckit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gurbetci/authcore/core"
)

// StateData is what a pending OAuth login needs across the redirect.
type StateData struct {
	Provider    string `json:"provider"`
	Verifier    string `json:"verifier"`
	Nonce       string `json:"nonce"`
	RedirectURI string `json:"redirect_uri"`
}

// StateCache persists pending-login state keyed by the opaque state value.
type StateCache interface {
	Put(ctx context.Context, state string, data StateData) error
	Get(ctx context.Context, state string) (StateData, bool, error)
	Del(ctx context.Context, state string) error
}

// KVStateCache backs StateCache with the ephemeral store. Entries expire
// after ttl, bounding how long an abandoned login stays claimable.
type KVStateCache struct {
	kv  core.EphemeralStore
	ttl time.Duration
}

func NewKVStateCache(kv core.EphemeralStore, ttl time.Duration) *KVStateCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KVStateCache{kv: kv, ttl: ttl}
}

func (c *KVStateCache) Put(ctx context.Context, state string, data StateData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, stateKey(state), b, c.ttl)
}

func (c *KVStateCache) Get(ctx context.Context, state string) (StateData, bool, error) {
	b, ok, err := c.kv.Get(ctx, stateKey(state))
	if err != nil || !ok {
		return StateData{}, false, err
	}
	var data StateData
	if err := json.Unmarshal(b, &data); err != nil {
		return StateData{}, false, err
	}
	return data, true, nil
}

func (c *KVStateCache) Del(ctx context.Context, state string) error {
	return c.kv.Del(ctx, stateKey(state))
}

func stateKey(state string) string { return "oauthstate:" + state }
