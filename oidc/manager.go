// Package oidckit handles the native OAuth flows (Google, Apple) that feed
// HandleOAuthCallback: relying-party construction from discovery, PKCE, and
// the code exchange that yields a verified provider identity.
package oidckit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/zitadel/oidc/v2/pkg/client/rp"
)

// RPConfig holds issuer-based settings for one OAuth provider.
type RPConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// SecretProvider, if set, is called for a fresh client_secret each time an
	// RP is built. Apple signs a short-lived ES256 JWT as its secret.
	SecretProvider func(ctx context.Context) (string, error)
	Scopes         []string
	ExtraAuthParams map[string]string
}

// Manager builds relying parties and authorization URLs with PKCE.
type Manager struct{ providers map[string]RPConfig }

func NewManager(cfgs map[string]RPConfig) *Manager { return &Manager{providers: cfgs} }

// Config returns the settings for a provider slug, if configured.
func (m *Manager) Config(name string) (RPConfig, bool) { c, ok := m.providers[name]; return c, ok }

// Begin returns the authorization URL for provider. The caller persists
// state, verifier and nonce (see StateCache) and opens the URL. Apple's web
// flow does not accept PKCE, so the challenge is omitted there.
func (m *Manager) Begin(ctx context.Context, provider, state, nonce, codeChallenge, redirectURI string) (string, error) {
	cfg, ok := m.providers[provider]
	if !ok {
		return "", errors.New("unknown oauth provider")
	}
	rpClient, err := m.rp(ctx, cfg, redirectURI)
	if err != nil {
		return "", err
	}
	opts := []rp.AuthURLOpt{
		rp.AuthURLOpt(rp.WithURLParam("nonce", nonce)),
	}
	if provider != "apple" {
		opts = append(opts, rp.WithCodeChallenge(codeChallenge))
		opts = append(opts, rp.AuthURLOpt(rp.WithURLParam("code_challenge_method", "S256")))
	}
	for k, v := range cfg.ExtraAuthParams {
		opts = append(opts, rp.AuthURLOpt(rp.WithURLParam(k, v)))
	}
	return rp.AuthURL(state, rpClient, opts...), nil
}

// RelyingParty builds the RP for a provider from discovery.
func (m *Manager) RelyingParty(ctx context.Context, provider, redirectURI string) (rp.RelyingParty, error) {
	cfg, ok := m.providers[provider]
	if !ok {
		return nil, errors.New("unknown oauth provider")
	}
	return m.rp(ctx, cfg, redirectURI)
}

func (m *Manager) rp(ctx context.Context, cfg RPConfig, redirectURI string) (rp.RelyingParty, error) {
	secret := cfg.ClientSecret
	if cfg.SecretProvider != nil {
		s, err := cfg.SecretProvider(ctx)
		if err != nil {
			return nil, err
		}
		secret = s
	}
	return rp.NewRelyingPartyOIDC(cfg.Issuer, cfg.ClientID, secret, redirectURI, cfg.Scopes)
}

// GeneratePKCE returns a verifier and its S256 challenge.
func GeneratePKCE() (verifier, challenge string, err error) {
	v := make([]byte, 32)
	if _, err = rand.Read(v); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(v)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}
