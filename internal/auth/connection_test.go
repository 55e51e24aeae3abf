package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

func newTestExchanger(tokenURL string, timeout time.Duration) *ConnectionExchanger {
	return NewConnectionExchanger(ExchangerConfig{
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Connection:   "spotify",
		Timeout:      timeout,
		Logger:       log.New(io.Discard),
	})
}

func sessionToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "idp-access",
		RefreshToken: "idp-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestAccessTokenForConnection_Success(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)

		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}

		want := map[string]string{
			"grant_type":           grantTypeConnectionToken,
			"subject_token":        "idp-refresh",
			"subject_token_type":   subjectTokenTypeRefresh,
			"requested_token_type": requestedTokenTypeConnect,
			"connection":           "spotify",
			"client_id":            "client-id",
			"client_secret":        "client-secret",
		}
		for key, value := range want {
			if got := r.PostForm.Get(key); got != value {
				t.Errorf("form %s = %q, want %q", key, got, value)
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "spotify-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	exchanger := newTestExchanger(server.URL, time.Second)

	token, err := exchanger.AccessTokenForConnection(context.Background(), sessionToken())
	if err != nil {
		t.Fatalf("AccessTokenForConnection() error = %v", err)
	}
	if token.AccessToken != "spotify-access" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "spotify-access")
	}
	if count := requestCount.Load(); count != 1 {
		t.Errorf("Expected 1 request, got %d", count)
	}
}

func TestAccessTokenForConnection_NotCached(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "spotify-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	exchanger := newTestExchanger(server.URL, time.Second)

	for i := 0; i < 2; i++ {
		if _, err := exchanger.AccessTokenForConnection(context.Background(), sessionToken()); err != nil {
			t.Fatalf("call %d: AccessTokenForConnection() error = %v", i+1, err)
		}
	}

	if count := requestCount.Load(); count != 2 {
		t.Errorf("Expected 2 requests, got %d", count)
	}
}

func TestAccessTokenForConnection_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		rawBody  string
		wantKind Kind
		wantCode string
	}{
		{
			name:     "connection not linked",
			status:   http.StatusUnauthorized,
			body:     map[string]string{"error": "federated_connection_refresh_token_not_found", "error_description": "Federated connection Refresh Token not found."},
			wantKind: ConnectionMissing,
			wantCode: "federated_connection_refresh_token_not_found",
		},
		{
			name:     "revoked grant",
			status:   http.StatusBadRequest,
			body:     map[string]string{"error": "invalid_grant", "error_description": "Unknown or invalid refresh token."},
			wantKind: ConnectionExpired,
			wantCode: "invalid_grant",
		},
		{
			name:     "other provider code passed through",
			status:   http.StatusForbidden,
			body:     map[string]string{"error": "access_denied", "error_description": "Consent revoked"},
			wantKind: ProviderRejected,
			wantCode: "access_denied",
		},
		{
			name:     "provider outage without code",
			status:   http.StatusBadGateway,
			rawBody:  "upstream unavailable",
			wantKind: ProviderRejected,
			wantCode: CodeFailedToExchange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.body != nil {
					writeJSON(w, tt.status, tt.body)
					return
				}
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.rawBody)
			}))
			defer server.Close()

			exchanger := newTestExchanger(server.URL, time.Second)

			token, err := exchanger.AccessTokenForConnection(context.Background(), sessionToken())
			if token != nil {
				t.Errorf("AccessTokenForConnection() token = %v, want nil", token)
			}

			te, ok := AsTokenError(err)
			if !ok {
				t.Fatalf("AccessTokenForConnection() error = %v, want *TokenError", err)
			}
			if te.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", te.Kind, tt.wantKind)
			}
			if te.ProviderCode != tt.wantCode {
				t.Errorf("ProviderCode = %q, want %q", te.ProviderCode, tt.wantCode)
			}
			if te.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestAccessTokenForConnection_MissingRefreshToken(t *testing.T) {
	var requestCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
	}))
	defer server.Close()

	exchanger := newTestExchanger(server.URL, time.Second)

	tests := []struct {
		name  string
		token *oauth2.Token
	}{
		{"nil session token", nil},
		{"no refresh token", &oauth2.Token{AccessToken: "idp-access"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exchanger.AccessTokenForConnection(context.Background(), tt.token)

			te, ok := AsTokenError(err)
			if !ok {
				t.Fatalf("error = %v, want *TokenError", err)
			}
			if te.Kind != ConnectionMissing {
				t.Errorf("Kind = %q, want %q", te.Kind, ConnectionMissing)
			}
			if te.ProviderCode != CodeMissingRefreshToken {
				t.Errorf("ProviderCode = %q, want %q", te.ProviderCode, CodeMissingRefreshToken)
			}
		})
	}

	if count := requestCount.Load(); count != 0 {
		t.Errorf("Expected 0 requests, got %d", count)
	}
}

func TestAccessTokenForConnection_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	exchanger := newTestExchanger(server.URL, 50*time.Millisecond)

	_, err := exchanger.AccessTokenForConnection(context.Background(), sessionToken())

	te, ok := AsTokenError(err)
	if !ok {
		t.Fatalf("error = %v, want *TokenError", err)
	}
	if te.Kind != ProviderRejected {
		t.Errorf("Kind = %q, want %q", te.Kind, ProviderRejected)
	}
	if te.ProviderCode != CodeFailedToExchange {
		t.Errorf("ProviderCode = %q, want %q", te.ProviderCode, CodeFailedToExchange)
	}
}

func TestTokenError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newTokenError(ProviderRejected, CodeFailedToExchange, cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(TokenError, cause) = false, want true")
	}

	wrapped := errors.Join(errors.New("outer"), err)
	if _, ok := AsTokenError(wrapped); !ok {
		t.Error("AsTokenError(wrapped) = false, want true")
	}
}

func TestNewConnectionExchanger_Defaults(t *testing.T) {
	e := NewConnectionExchanger(ExchangerConfig{Connection: "spotify"})

	if e.httpClient.Timeout != defaultExchangeTimeout {
		t.Errorf("Timeout = %v, want %v", e.httpClient.Timeout, defaultExchangeTimeout)
	}
	if e.logger == nil {
		t.Error("logger is nil")
	}
	if e.Connection() != "spotify" {
		t.Errorf("Connection() = %q, want spotify", e.Connection())
	}
}
