package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleIssuer is Google's OIDC issuer URL.
const GoogleIssuer = "https://accounts.google.com"

// GoogleOIDCClient implements OIDCClient against any OIDC issuer; Google in
// production, mockoidc in tests.
type GoogleOIDCClient struct {
	verifier    *oidc.IDTokenVerifier
	oauthConfig oauth2.Config
}

// NewGoogleOIDCClient discovers Google's endpoints.
func NewGoogleOIDCClient(ctx context.Context, clientID, clientSecret, redirectURL string) (*GoogleOIDCClient, error) {
	return NewOIDCClient(ctx, GoogleIssuer, clientID, clientSecret, redirectURL)
}

// NewOIDCClient discovers the issuer's endpoints and builds a verifier for
// the client ID.
func NewOIDCClient(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*GoogleOIDCClient, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &GoogleOIDCClient{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauthConfig: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

func (g *GoogleOIDCClient) config(redirectURL string) *oauth2.Config {
	cfg := g.oauthConfig
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &cfg
}

func (g *GoogleOIDCClient) GetAuthURL(state, redirectURL string) string {
	return g.config(redirectURL).AuthCodeURL(state)
}

// ExchangeCode performs the token exchange, verifies the ID token and
// extracts its claims.
func (g *GoogleOIDCClient) ExchangeCode(ctx context.Context, code, redirectURL string) (*Claims, error) {
	tok, err := g.config(redirectURL).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeExchangeFailed, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token in token response", ErrCodeExchangeFailed)
	}
	if g.verifier == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrCodeExchangeFailed)
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: id_token verification failed: %v", ErrCodeExchangeFailed, err)
	}

	var c struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrCodeExchangeFailed, err)
	}
	return &Claims{Sub: c.Sub, Email: c.Email, Name: c.Name, EmailVerified: c.EmailVerified}, nil
}
