package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/justestif/go-study-dashboard/internal/auth"
	"github.com/justestif/go-study-dashboard/internal/spotify"
)

const (
	stateCookieName    = "oauth_state"
	returnToCookieName = "return_to"
	loginCookieMaxAge  = 300 // 5 minutes

	playlistTypeUser = "user"

	errNotAuthenticated    = "Not authenticated"
	errFetchPlaylists      = "Failed to fetch playlists"
	errFetchAccessToken    = "Failed to get access token"
	errBadLoginURL         = "Login URL is misconfigured"
	errCreateSession       = "Failed to create session"
	errSessionStore        = "Failed to load session"
	errLoginExchangeFailed = "Failed to complete login"
)

// LoginProvider runs the identity provider's authorization code flow.
type LoginProvider interface {
	AuthURL(state string, params url.Values) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, *auth.Identity, error)
}

// ConnectionTokenSource trades a session token for a connection access token.
type ConnectionTokenSource interface {
	AccessTokenForConnection(ctx context.Context, sessionToken *oauth2.Token) (*oauth2.Token, error)
}

// PlaylistGateway reads playlists from Spotify on behalf of a user.
type PlaylistGateway interface {
	SearchPlaylists(ctx context.Context, accessToken, query string) ([]spotify.PlaylistSummary, error)
	ListUserPlaylists(ctx context.Context, accessToken string) ([]spotify.PlaylistSummary, error)
}

// HandlersConfig holds the collaborators and settings of the route handlers.
type HandlersConfig struct {
	Login     LoginProvider
	Tokens    ConnectionTokenSource
	Playlists PlaylistGateway
	Sessions  SessionManager
	Logger    *log.Logger

	ConnectionName     string
	LoginPath          string
	DefaultReturnTo    string
	DefaultSearchQuery string
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	login     LoginProvider
	tokens    ConnectionTokenSource
	playlists PlaylistGateway
	sessions  SessionManager
	logger    *log.Logger

	connection    string
	loginPath     string
	defaultReturn string
	defaultQuery  string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{
		login:         cfg.Login,
		tokens:        cfg.Tokens,
		playlists:     cfg.Playlists,
		sessions:      cfg.Sessions,
		logger:        logger,
		connection:    cfg.ConnectionName,
		loginPath:     cfg.LoginPath,
		defaultReturn: cfg.DefaultReturnTo,
		defaultQuery:  cfg.DefaultSearchQuery,
	}
}

// Connect starts linking the Spotify connection (GET /connect).
// It redirects to the login route asking the identity provider for an
// offline, freshly consented grant for the connection.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	returnTo := safeReturnTo(r.URL.Query().Get("returnTo"), h.defaultReturn)

	target, err := url.Parse(h.loginPath)
	if err != nil {
		h.logger.Error("invalid login path", "login_path", h.loginPath, "err", err)
		writeError(w, http.StatusInternalServerError, errBadLoginURL)
		return
	}

	q := url.Values{}
	q.Set("connection", h.connection)
	q.Set("returnTo", returnTo)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// AccessToken returns a Spotify access token for the session (GET /access-token).
func (h *Handlers) AccessToken(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	token, err := h.tokens.AccessTokenForConnection(r.Context(), session.Token)
	if err != nil {
		h.writeExchangeError(w, err, errFetchAccessToken)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token.AccessToken})
}

// Playlists lists playlists for the session (GET /playlists).
// type=user lists the user's own playlists; anything else searches.
func (h *Handlers) Playlists(w http.ResponseWriter, r *http.Request) {
	session, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	token, err := h.tokens.AccessTokenForConnection(r.Context(), session.Token)
	if err != nil {
		h.writeExchangeError(w, err, errFetchPlaylists)
		return
	}

	var playlists []spotify.PlaylistSummary
	query := r.URL.Query()
	if query.Get("type") == playlistTypeUser {
		playlists, err = h.playlists.ListUserPlaylists(r.Context(), token.AccessToken)
	} else {
		q := strings.TrimSpace(query.Get("query"))
		if q == "" {
			q = h.defaultQuery
		}
		playlists, err = h.playlists.SearchPlaylists(r.Context(), token.AccessToken, q)
	}
	if err != nil {
		h.logger.Error("fetching playlists", "user_id", session.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, errFetchPlaylists)
		return
	}
	if playlists == nil {
		playlists = []spotify.PlaylistSummary{}
	}

	writeJSON(w, http.StatusOK, playlistsResponse{Playlists: playlists, Count: len(playlists)})
}

type playlistsResponse struct {
	Playlists []spotify.PlaylistSummary `json:"playlists"`
	Count     int                       `json:"count"`
}

// Login initiates the identity provider's OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	// Store state in cookie for validation on callback
	setShortCookie(w, stateCookieName, state)
	setShortCookie(w, returnToCookieName, url.QueryEscape(safeReturnTo(r.URL.Query().Get("returnTo"), "/")))

	http.Redirect(w, r, h.login.AuthURL(state, r.URL.Query()), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from the identity provider (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	// Verify state
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing state cookie")
		return
	}

	query := r.URL.Query()
	if query.Get("state") != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "State mismatch")
		return
	}
	clearShortCookie(w, stateCookieName)

	returnTo := "/"
	if c, err := r.Cookie(returnToCookieName); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			returnTo = safeReturnTo(v, "/")
		}
	}
	clearShortCookie(w, returnToCookieName)

	if errCode := query.Get("error"); errCode != "" {
		h.logger.Warn("login rejected by identity provider", "error", errCode, "description", query.Get("error_description"))
		writeError(w, http.StatusBadRequest, "Login was not completed: "+errCode)
		return
	}

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	token, identity, err := h.login.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("completing login", "err", err)
		writeError(w, http.StatusInternalServerError, errLoginExchangeFailed)
		return
	}

	session, err := h.sessions.Create(r.Context(), token, *identity)
	if err != nil {
		h.logger.Error("creating session", "user_id", identity.Subject, "err", err)
		writeError(w, http.StatusInternalServerError, errCreateSession)
		return
	}

	h.sessions.SetCookie(w, session)
	http.Redirect(w, r, returnTo, http.StatusTemporaryRedirect)
}

// Logout clears the session and redirects to home (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetFromRequest(r)
	if err != nil {
		h.logger.Warn("loading session for logout", "err", err)
	}
	if session != nil {
		h.sessions.Delete(r.Context(), session.ID)
	}

	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// Healthz reports liveness (GET /healthz).
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSession resolves the request's session. It answers 401 when there
// is none and 500 when the session store fails.
func (h *Handlers) requireSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, err := h.sessions.GetFromRequest(r)
	if err != nil {
		h.logger.Error("loading session", "err", err)
		writeError(w, http.StatusInternalServerError, errSessionStore)
		return nil, false
	}
	if session == nil {
		writeError(w, http.StatusUnauthorized, errNotAuthenticated)
		return nil, false
	}
	return session, true
}

// writeExchangeError maps a token exchange failure onto a response.
// Classified failures are 403 with the provider's code; anything else is a
// generic 500.
func (h *Handlers) writeExchangeError(w http.ResponseWriter, err error, fallback string) {
	if tokenErr, ok := auth.AsTokenError(err); ok {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":     tokenErr.Message,
			"errorCode": tokenErr.ProviderCode,
		})
		return
	}
	h.logger.Error("exchanging connection token", "err", err)
	writeError(w, http.StatusInternalServerError, fallback)
}

// safeReturnTo accepts only local absolute paths so the redirect can never
// leave this origin.
func safeReturnTo(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}

func setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   loginCookieMaxAge,
	})
}

func clearShortCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
