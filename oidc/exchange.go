package oidckit

import (
	"context"
	"fmt"

	"github.com/zitadel/oidc/v2/pkg/client/rp"
	"github.com/zitadel/oidc/v2/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/gurbetci/authcore/core"
)

// Exchange redeems an authorization code and returns the verified identity.
// The RP's built-in verifier does not know the per-request nonce, so the code
// is exchanged over plain OAuth2 first and the id_token checked with a
// verifier carrying that nonce.
func Exchange(ctx context.Context, rpClient rp.RelyingParty, provider, code, verifier, nonce string) (*core.ProviderIdentity, error) {
	var opts []oauth2.AuthCodeOption
	if provider != "apple" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}
	token, err := rpClient.OAuthConfig().Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange (%s): %v", core.ErrProvider, provider, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no id_token in %s response", core.ErrProvider, provider)
	}

	nonceVerifier := rp.NewIDTokenVerifier(
		rpClient.IDTokenVerifier().Issuer(),
		rpClient.IDTokenVerifier().ClientID(),
		rpClient.IDTokenVerifier().KeySet(),
		rp.WithNonce(func(context.Context) string { return nonce }),
	)
	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, rawIDToken, nonceVerifier)
	if err != nil {
		return nil, fmt.Errorf("%w: id_token verification (%s): %v", core.ErrProvider, provider, err)
	}

	return &core.ProviderIdentity{
		Subject:        claims.GetSubject(),
		Email:          claims.UserInfoEmail.Email,
		EmailConfirmed: bool(claims.UserInfoEmail.EmailVerified),
		Provider:       provider,
		Name:           claims.UserInfoProfile.Name,
		AvatarURL:      claims.UserInfoProfile.Picture,
	}, nil
}
