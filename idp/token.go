package idp

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/gurbetci/authcore/core"
)

// TokenVerifier validates provider-issued access tokens offline. Keys come
// from the provider's JWKS endpoint and are cached with background refresh;
// an optional shared HMAC secret covers providers that sign with HS256.
type TokenVerifier struct {
	jwksURL  string
	issuer   string
	secret   []byte
	keyCache *jwk.Cache
}

// NewTokenVerifier registers jwksURL in a refresh cache. The ctx bounds the
// cache's background refresh goroutine.
func NewTokenVerifier(ctx context.Context, issuer, jwksURL string) (*TokenVerifier, error) {
	c := jwk.NewCache(ctx)
	if err := c.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, err
	}
	return &TokenVerifier{jwksURL: jwksURL, issuer: issuer, keyCache: c}, nil
}

// WithHMACSecret allows HS256 tokens signed with the provider's JWT secret.
func (v *TokenVerifier) WithHMACSecret(secret []byte) *TokenVerifier {
	v.secret = secret
	return v
}

type providerClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Verify checks signature, expiry and issuer, returning the token's identity.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*core.ProviderIdentity, error) {
	claims := &providerClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256", "HS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, claims, v.keyfunc(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %v", core.ErrProvider, err)
	}
	return &core.ProviderIdentity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Phone:   claims.Phone,
	}, nil
}

func (v *TokenVerifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, hmac := t.Method.(*jwt.SigningMethodHMAC); hmac {
			if len(v.secret) == 0 {
				return nil, fmt.Errorf("hmac token but no shared secret configured")
			}
			return v.secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid")
		}
		set, err := v.keyCache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("jwks fetch: %w", err)
		}
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no jwk for kid %q", kid)
		}
		var pub any
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("jwk materialize: %w", err)
		}
		return pub, nil
	}
}
