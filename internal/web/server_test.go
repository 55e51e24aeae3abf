package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/justestif/go-study-dashboard/internal/logging"
)

func TestNewServer_RequiresHandlers(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() error = nil, want error")
	}
}

func TestServer_Routes(t *testing.T) {
	env := newTestEnv(t)
	srv, err := NewServer(ServerConfig{Handlers: env.handlers, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/connect?returnTo=/x", http.StatusFound},
		{http.MethodGet, "/access-token", http.StatusUnauthorized},
		{http.MethodGet, "/playlists", http.StatusUnauthorized},
		{http.MethodGet, "/auth/login", http.StatusTemporaryRedirect},
		{http.MethodGet, "/callback", http.StatusBadRequest},
		{http.MethodPost, "/auth/logout", http.StatusTemporaryRedirect},
		{http.MethodGet, "/auth/logout", http.StatusMethodNotAllowed},
		{http.MethodPost, "/playlists", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handlers.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}
}
