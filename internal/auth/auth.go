// Package auth talks to the primary OIDC identity provider: it runs the
// login flow and exchanges sessions for federated connection tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const discoveryTimeout = 10 * time.Second

// forwardedParams are the login query parameters passed through to the
// provider's authorize endpoint. Anything else is dropped.
var forwardedParams = []string{"connection", "access_type", "prompt"}

// Identity is the normalized principal asserted by the identity provider.
type Identity struct {
	Subject string
	Name    string
	Email   string
}

// Config holds the settings needed to build an Authenticator.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Audience     string
	Scopes       []string
	Timeout      time.Duration
}

// Authenticator runs the authorization code flow against the identity provider.
type Authenticator struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	audience   string
	httpClient *http.Client
}

// New discovers the provider's endpoints and creates an Authenticator.
// Returns ErrMissingCredentials if the issuer, client ID or secret is empty.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = discoveryTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering identity provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		audience:   cfg.Audience,
		httpClient: httpClient,
	}, nil
}

// TokenURL returns the provider's token endpoint.
func (a *Authenticator) TokenURL() string {
	return a.oauth.Endpoint.TokenURL
}

// AuthURL builds the authorize URL for state. Connection parameters found in
// params (connection, access_type, prompt) are forwarded to the provider.
func (a *Authenticator) AuthURL(state string, params url.Values) string {
	var opts []oauth2.AuthCodeOption
	if a.audience != "" {
		opts = append(opts, oauth2.SetAuthURLParam("audience", a.audience))
	}
	for _, key := range forwardedParams {
		if v := params.Get(key); v != "" {
			opts = append(opts, oauth2.SetAuthURLParam(key, v))
		}
	}
	return a.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens and verifies the id_token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, *Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchanging code for token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, ErrMissingIDToken
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying id_token: %w", err)
	}

	var claims struct {
		Subject  string `json:"sub"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Email    string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("parsing id_token claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, nil, ErrMissingClaims
	}

	return token, &Identity{
		Subject: claims.Subject,
		Name:    firstNonEmpty(claims.Name, claims.Nickname, claims.Email, claims.Subject),
		Email:   claims.Email,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
