package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(priv.Public())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "kid-1"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv, priv
}

func signRS256(t *testing.T, priv *rsa.PrivateKey, kid string, claims providerClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(priv)
	require.NoError(t, err)
	return raw
}

func TestVerifyAgainstJWKS(t *testing.T) {
	srv, priv := newJWKSServer(t)
	ctx := context.Background()

	v, err := NewTokenVerifier(ctx, "https://issuer.test", srv.URL)
	require.NoError(t, err)

	raw := signRS256(t, priv, "kid-1", providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.test",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "a@example.com",
		Phone: "+48123456789",
	})

	pid, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "u-1", pid.Subject)
	require.Equal(t, "a@example.com", pid.Email)
	require.Equal(t, "+48123456789", pid.Phone)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	srv, priv := newJWKSServer(t)
	ctx := context.Background()

	v, err := NewTokenVerifier(ctx, "https://issuer.test", srv.URL)
	require.NoError(t, err)

	raw := signRS256(t, priv, "kid-1", providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.test",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err = v.Verify(ctx, raw)
	require.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	srv, priv := newJWKSServer(t)
	ctx := context.Background()

	v, err := NewTokenVerifier(ctx, "https://issuer.test", srv.URL)
	require.NoError(t, err)

	raw := signRS256(t, priv, "kid-1", providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://evil.test",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err = v.Verify(ctx, raw)
	require.Error(t, err)
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	srv, priv := newJWKSServer(t)
	ctx := context.Background()

	v, err := NewTokenVerifier(ctx, "https://issuer.test", srv.URL)
	require.NoError(t, err)

	raw := signRS256(t, priv, "kid-rotated-away", providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.test",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err = v.Verify(ctx, raw)
	require.Error(t, err)
}

func TestVerifyHMACWithSharedSecret(t *testing.T) {
	srv, _ := newJWKSServer(t)
	ctx := context.Background()

	v, err := NewTokenVerifier(ctx, "https://issuer.test", srv.URL)
	require.NoError(t, err)

	claims := providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://issuer.test",
			Subject:   "u-2",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "b@example.com",
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	// Without the secret configured HS256 tokens are rejected.
	_, err = v.Verify(ctx, raw)
	require.Error(t, err)

	pid, err := v.WithHMACSecret([]byte("shared-secret")).Verify(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, "u-2", pid.Subject)
	require.Equal(t, "b@example.com", pid.Email)
}
