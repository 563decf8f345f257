package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when a provider does not report expires_in.
const DefaultTokenLifetime = 3600 * time.Second

// Tokens is the result of an authorization-code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// ExpiresIn is zero when the provider did not report a lifetime.
	ExpiresIn time.Duration
}

// authCodeURL builds the provider login URL. It performs no network I/O.
func authCodeURL(cfg *ProviderConfig, state, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if cfg.Behavior.PKCE {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if cfg.Provider == Google {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	return cfg.OAuth2().AuthCodeURL(state, opts...)
}

// exchangeCode trades an authorization code for tokens. Every failure is
// reported as ErrTokenExchangeFailed; the code is single-use so nothing is
// retried.
func exchangeCode(ctx context.Context, client *http.Client, cfg *ProviderConfig, code, verifier string) (*Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	var opts []oauth2.AuthCodeOption
	if cfg.Behavior.PKCE && verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	t, err := cfg.OAuth2().Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTokenExchangeFailed, cfg.Provider, err)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%w: %s: empty access token", ErrTokenExchangeFailed, cfg.Provider)
	}

	out := &Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	if !t.Expiry.IsZero() {
		if d := time.Until(t.Expiry); d > 0 {
			out.ExpiresIn = d.Round(time.Second)
		}
	}
	return out, nil
}
