// Package web provides the HTTP server and route handlers for the study dashboard.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/go-study-dashboard/internal/auth"
	"github.com/justestif/go-study-dashboard/internal/db"
)

const (
	sessionCookieName = "session_id"

	// DefaultSessionTTL is used when a store is created with a non-positive TTL.
	DefaultSessionTTL = 24 * time.Hour
)

// Session represents an authenticated user session.
// Token holds the identity provider's tokens; its refresh token is the
// subject token exchanged for connection access tokens.
type Session struct {
	ID        string
	Token     *oauth2.Token
	UserID    string
	UserName  string
	UserEmail string
	CreatedAt time.Time
}

// SessionManager defines the interface for session management.
//
// Get and GetFromRequest return (nil, nil) for unknown or expired sessions.
// A non-nil error means the store itself failed.
type SessionManager interface {
	Create(ctx context.Context, token *oauth2.Token, user auth.Identity) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string)
	GetFromRequest(r *http.Request) (*Session, error)
	SetCookie(w http.ResponseWriter, session *Session)
	ClearCookie(w http.ResponseWriter)
}

// ============================================================================
// In-Memory Session Store (for development/testing)
// ============================================================================

// SessionStore manages user sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      normalizeTTL(ttl),
		now:      time.Now,
	}
}

// Create generates a new session with the given token and user info.
func (s *SessionStore) Create(_ context.Context, token *oauth2.Token, user auth.Identity) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        id,
		Token:     token,
		UserID:    user.Subject,
		UserName:  user.Name,
		UserEmail: user.Email,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}

	// Check if session has expired
	if s.now().Sub(session.CreatedAt) > s.ttl {
		return nil, nil
	}

	return session, nil
}

// Delete removes a session by ID.
func (s *SessionStore) Delete(_ context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// GetFromRequest extracts the session from the request cookie.
func (s *SessionStore) GetFromRequest(r *http.Request) (*Session, error) {
	return sessionFromCookie(r, s.Get)
}

// SetCookie sets the session cookie on the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, session *Session) {
	setCookie(w, session, s.ttl)
}

// ClearCookie removes the session cookie from the response.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	clearCookie(w)
}

// ============================================================================
// Database-Backed Session Store
// ============================================================================

// sessionRepository is the subset of db.SessionRepository the store uses.
type sessionRepository interface {
	Create(ctx context.Context, session *db.Session) error
	Get(ctx context.Context, id string) (*db.Session, error)
	Delete(ctx context.Context, id string) error
}

// userRepository is the subset of db.UserRepository the store uses.
type userRepository interface {
	Get(ctx context.Context, id string) (*db.User, error)
	Upsert(ctx context.Context, user *db.User) error
}

// DBSessionStore manages user sessions in PostgreSQL.
type DBSessionStore struct {
	sessions sessionRepository
	users    userRepository
	ttl      time.Duration
}

// NewDBSessionStore creates a new database-backed session store.
func NewDBSessionStore(database *db.DB, ttl time.Duration) *DBSessionStore {
	return &DBSessionStore{
		sessions: database.Sessions(),
		users:    database.Users(),
		ttl:      normalizeTTL(ttl),
	}
}

// Create records the user and stores a new session in the database.
func (s *DBSessionStore) Create(ctx context.Context, token *oauth2.Token, user auth.Identity) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	dbUser := &db.User{ID: user.Subject, DisplayName: user.Name, Email: user.Email}
	if err := s.users.Upsert(ctx, dbUser); err != nil {
		return nil, err
	}

	now := time.Now()
	dbSession := &db.Session{
		ID:           id,
		UserID:       user.Subject,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	if err := s.sessions.Create(ctx, dbSession); err != nil {
		return nil, err
	}

	return &Session{
		ID:        id,
		Token:     token,
		UserID:    user.Subject,
		UserName:  user.Name,
		UserEmail: user.Email,
		CreatedAt: now,
	}, nil
}

// Get retrieves a session by ID from the database.
func (s *DBSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	dbSession, err := s.sessions.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	// Get user info for the session
	user, err := s.users.Get(ctx, dbSession.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}

	return &Session{
		ID: dbSession.ID,
		Token: &oauth2.Token{
			AccessToken:  dbSession.AccessToken,
			RefreshToken: dbSession.RefreshToken,
			Expiry:       dbSession.TokenExpiry,
			TokenType:    "Bearer",
		},
		UserID:    dbSession.UserID,
		UserName:  user.DisplayName,
		UserEmail: user.Email,
		CreatedAt: dbSession.CreatedAt,
	}, nil
}

// Delete removes a session from the database.
func (s *DBSessionStore) Delete(ctx context.Context, id string) {
	_ = s.sessions.Delete(ctx, id)
}

// GetFromRequest extracts the session from the request cookie.
func (s *DBSessionStore) GetFromRequest(r *http.Request) (*Session, error) {
	return sessionFromCookie(r, s.Get)
}

// SetCookie sets the session cookie on the response.
func (s *DBSessionStore) SetCookie(w http.ResponseWriter, session *Session) {
	setCookie(w, session, s.ttl)
}

// ClearCookie removes the session cookie from the response.
func (s *DBSessionStore) ClearCookie(w http.ResponseWriter) {
	clearCookie(w)
}

// ============================================================================
// Helper Functions
// ============================================================================

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSessionTTL
	}
	return ttl
}

// sessionFromCookie resolves the session cookie with get. A missing cookie
// is an unauthenticated request, not an error.
func sessionFromCookie(r *http.Request, get func(context.Context, string) (*Session, error)) (*Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return get(r.Context(), cookie.Value)
}

// setCookie sets the session cookie on the response.
func setCookie(w http.ResponseWriter, session *Session, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearCookie removes the session cookie from the response.
func clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// Ensure every store implements SessionManager.
var (
	_ SessionManager = (*SessionStore)(nil)
	_ SessionManager = (*DBSessionStore)(nil)
	_ SessionManager = (*RedisSessionStore)(nil)
)
