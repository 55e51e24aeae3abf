package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/justestif/go-study-dashboard/internal/auth"
)

const redisSessionPrefix = "session:"

// redisSession is the stored form of a Session. Expiry is left to Redis.
type redisSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	TokenExpiry  time.Time `json:"token_expiry"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	UserEmail    string    `json:"user_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisSessionStore manages user sessions in Redis, one key per session.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: normalizeTTL(ttl)}
}

func (s *RedisSessionStore) key(id string) string {
	return redisSessionPrefix + id
}

// Create generates a new session and stores it with the store's TTL.
func (s *RedisSessionStore) Create(ctx context.Context, token *oauth2.Token, user auth.Identity) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	data, err := json.Marshal(redisSession{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		TokenExpiry:  token.Expiry,
		UserID:       user.Subject,
		UserName:     user.Name,
		UserEmail:    user.Email,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}

	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
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

// Get retrieves a session by ID. Unknown, expired and unreadable entries
// resolve to (nil, nil); Redis failures are returned.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(val, &stored); err != nil {
		return nil, nil
	}

	return &Session{
		ID: id,
		Token: &oauth2.Token{
			AccessToken:  stored.AccessToken,
			RefreshToken: stored.RefreshToken,
			TokenType:    stored.TokenType,
			Expiry:       stored.TokenExpiry,
		},
		UserID:    stored.UserID,
		UserName:  stored.UserName,
		UserEmail: stored.UserEmail,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// Delete removes a session by ID.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) {
	_ = s.client.Del(ctx, s.key(id)).Err()
}

// GetFromRequest extracts the session from the request cookie.
func (s *RedisSessionStore) GetFromRequest(r *http.Request) (*Session, error) {
	return sessionFromCookie(r, s.Get)
}

// SetCookie sets the session cookie on the response.
func (s *RedisSessionStore) SetCookie(w http.ResponseWriter, session *Session) {
	setCookie(w, session, s.ttl)
}

// ClearCookie removes the session cookie from the response.
func (s *RedisSessionStore) ClearCookie(w http.ResponseWriter) {
	clearCookie(w)
}
