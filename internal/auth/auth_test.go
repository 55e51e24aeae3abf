package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://tenant.example.com/"
	testClientID = "client-id"
)

func TestNew_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"all missing", Config{}},
		{"issuer missing", Config{ClientID: "id", ClientSecret: "secret"}},
		{"id missing", Config{Issuer: testIssuer, ClientSecret: "secret"}},
		{"secret missing", Config{Issuer: testIssuer, ClientID: "id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("New() error = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestAuthURL(t *testing.T) {
	a := &Authenticator{
		oauth: &oauth2.Config{
			ClientID:    testClientID,
			RedirectURL: "http://127.0.0.1:8080/callback",
			Endpoint:    oauth2.Endpoint{AuthURL: "https://tenant.example.com/authorize"},
			Scopes:      []string{"openid", "offline_access"},
		},
		audience: "https://api.example.com",
	}

	params := url.Values{
		"connection":  {"spotify"},
		"access_type": {"offline"},
		"prompt":      {"consent"},
		"returnTo":    {"/settings"},
		"evil":        {"1"},
	}

	raw := a.AuthURL("state-123", params)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}

	q := u.Query()
	want := map[string]string{
		"state":         "state-123",
		"client_id":     testClientID,
		"response_type": "code",
		"connection":    "spotify",
		"access_type":   "offline",
		"prompt":        "consent",
		"audience":      "https://api.example.com",
		"scope":         "openid offline_access",
	}
	for key, value := range want {
		if got := q.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}

	for _, dropped := range []string{"returnTo", "evil"} {
		if q.Has(dropped) {
			t.Errorf("query contains %q, want it dropped", dropped)
		}
	}
}

func TestAuthURL_NoConnectionParams(t *testing.T) {
	a := &Authenticator{
		oauth: &oauth2.Config{
			ClientID: testClientID,
			Endpoint: oauth2.Endpoint{AuthURL: "https://tenant.example.com/authorize"},
		},
	}

	u, err := url.Parse(a.AuthURL("s", nil))
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}

	for _, key := range []string{"connection", "access_type", "prompt", "audience"} {
		if u.Query().Has(key) {
			t.Errorf("query contains %q, want absent", key)
		}
	}
}

// idpServer serves a token endpoint that returns idToken alongside the tokens.
func idpServer(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want auth-code", got)
		}

		body := map[string]any{
			"access_token":  "idp-access",
			"refresh_token": "idp-refresh",
			"token_type":    "Bearer",
			"expires_in":    86400,
		}
		if idToken != "" {
			body["id_token"] = idToken
		}
		writeJSON(w, http.StatusOK, body)
	}))
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func testAuthenticator(key *rsa.PrivateKey, tokenURL string) *Authenticator {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     testClientID,
			ClientSecret: "client-secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://tenant.example.com/authorize",
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier:   oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID}),
		httpClient: &http.Client{Timeout: time.Second},
	}
}

func TestExchange(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	now := time.Now()
	valid := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "auth0|user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}

	tests := []struct {
		name     string
		claims   jwt.MapClaims
		noToken  bool
		wantName string
		wantErr  error
		wantAny  bool
	}{
		{
			name:     "name claim",
			claims:   merge(valid, jwt.MapClaims{"name": "Ada Lovelace", "email": "ada@example.com"}),
			wantName: "Ada Lovelace",
		},
		{
			name:     "falls back to email",
			claims:   merge(valid, jwt.MapClaims{"email": "ada@example.com"}),
			wantName: "ada@example.com",
		},
		{
			name:     "falls back to subject",
			claims:   valid,
			wantName: "auth0|user-1",
		},
		{
			name:    "missing id_token",
			noToken: true,
			wantErr: ErrMissingIDToken,
		},
		{
			name:    "wrong audience",
			claims:  merge(valid, jwt.MapClaims{"aud": "someone-else"}),
			wantAny: true,
		},
		{
			name:    "expired",
			claims:  merge(valid, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}),
			wantAny: true,
		},
		{
			name:    "missing subject",
			claims:  merge(valid, jwt.MapClaims{"sub": ""}),
			wantErr: ErrMissingClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var idToken string
			if !tt.noToken {
				idToken = signIDToken(t, key, tt.claims)
			}

			server := idpServer(t, idToken)
			defer server.Close()

			a := testAuthenticator(key, server.URL)

			token, identity, err := a.Exchange(context.Background(), "auth-code")

			if tt.wantErr != nil || tt.wantAny {
				if err == nil {
					t.Fatal("Exchange() error = nil, want error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("Exchange() error = %v, want %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("Exchange() error = %v", err)
			}
			if token.RefreshToken != "idp-refresh" {
				t.Errorf("RefreshToken = %q, want idp-refresh", token.RefreshToken)
			}
			if identity.Subject != "auth0|user-1" {
				t.Errorf("Subject = %q, want auth0|user-1", identity.Subject)
			}
			if identity.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", identity.Name, tt.wantName)
			}
		})
	}
}

func TestTokenURL(t *testing.T) {
	a := &Authenticator{oauth: &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: "https://tenant.example.com/oauth/token"}}}

	if got := a.TokenURL(); got != "https://tenant.example.com/oauth/token" {
		t.Errorf("TokenURL() = %q", got)
	}
}

func merge(base, extra jwt.MapClaims) jwt.MapClaims {
	out := make(jwt.MapClaims, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
