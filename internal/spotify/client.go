// Package spotify provides read-only access to the Spotify Web API using
// connection access tokens issued by the identity provider.
package spotify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

const defaultTimeout = 10 * time.Second

// ErrProviderRejected wraps every failed call to the Spotify API: transport
// errors, timeouts and non-2xx responses.
var ErrProviderRejected = errors.New("spotify request failed")

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// Gateway creates a short-lived Client for each access token it is handed.
// It holds no per-user state and is safe for concurrent use.
type Gateway struct {
	baseURL      string
	timeout      time.Duration
	defaultQuery string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL points the gateway at a different API root. The URL must end in "/".
func WithBaseURL(u string) Option {
	return func(g *Gateway) {
		g.baseURL = u
	}
}

// WithTimeout bounds each outbound request.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithDefaultQuery sets the search query used when the caller gives none.
func WithDefaultQuery(q string) Option {
	return func(g *Gateway) {
		g.defaultQuery = q
	}
}

// NewGateway creates a Gateway.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		timeout:      defaultTimeout,
		defaultQuery: "lofi study chill",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SearchPlaylists searches Spotify playlists with accessToken.
// A blank query is replaced with the gateway's default query.
func (g *Gateway) SearchPlaylists(ctx context.Context, accessToken, query string) ([]PlaylistSummary, error) {
	if strings.TrimSpace(query) == "" {
		query = g.defaultQuery
	}
	return g.client(ctx, accessToken).SearchPlaylists(ctx, query)
}

// ListUserPlaylists returns every playlist owned or followed by the token's user.
func (g *Gateway) ListUserPlaylists(ctx context.Context, accessToken string) ([]PlaylistSummary, error) {
	return g.client(ctx, accessToken).UserPlaylists(ctx)
}

// client builds a Client that sends accessToken as a bearer credential.
// Retries are left disabled; failures surface to the caller immediately.
func (g *Gateway) client(ctx context.Context, accessToken string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = g.timeout

	var opts []spotify.ClientOption
	if g.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(g.baseURL))
	}
	return New(spotify.New(httpClient, opts...))
}
