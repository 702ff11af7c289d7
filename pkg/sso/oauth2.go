package sso

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// defaultScopes apply when a connection configures none
var defaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Exchanger performs the provider's OAuth2 authorization-code exchange.
// Verification of the returned ID token is NOT its job; the raw token goes
// through TokenVerifier regardless of what the exchange library did.
type Exchanger interface {
	// AuthCodeURL returns the provider authorization URL for a login attempt
	AuthCodeURL(state string) string

	// Exchange redeems an authorization code for the raw ID token and the
	// provider-native user profile
	Exchange(ctx context.Context, code string) (rawIDToken string, profile Profile, err error)
}

// ExchangerFactory builds an Exchanger for a connection. Swappable in tests.
type ExchangerFactory func(ctx context.Context, conn *IdentityConnection, redirectURL string) (Exchanger, error)

// oidcExchanger drives the code exchange through go-oidc/oauth2
type oidcExchanger struct {
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
}

// NewOIDCExchanger creates an Exchanger backed by issuer discovery
func NewOIDCExchanger(ctx context.Context, conn *IdentityConnection, redirectURL string) (Exchanger, error) {
	provider, err := oidc.NewProvider(ctx, conn.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	scopes := conn.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &oidcExchanger{
		provider: provider,
		oauth2Config: &oauth2.Config{
			ClientID:     conn.ClientID,
			ClientSecret: conn.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL returns the provider authorization URL
func (e *oidcExchanger) AuthCodeURL(state string) string {
	return e.oauth2Config.AuthCodeURL(state)
}

// Exchange redeems the authorization code. The userinfo endpoint is
// consulted best-effort to enrich the profile; its absence is not an error.
func (e *oidcExchanger) Exchange(ctx context.Context, code string) (string, Profile, error) {
	oauth2Token, err := e.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", nil, fmt.Errorf("missing id_token in token response")
	}

	profile := Profile{}
	if userInfo, err := e.provider.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token)); err == nil {
		var claims map[string]any
		if err := userInfo.Claims(&claims); err == nil {
			profile = Profile(claims)
		}
	}

	return rawIDToken, profile, nil
}
