// Package config loads application configuration from an optional TOML file
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	// ErrMissingCredentials is returned when the identity provider issuer,
	// client ID or client secret is not set.
	ErrMissingCredentials = errors.New("missing IDP_ISSUER, IDP_CLIENT_ID or IDP_CLIENT_SECRET")

	// ErrInvalidConfig is returned when a configuration value is unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Defaults for the secondary provider connection.
const (
	DefaultConnectionName     = "spotify"
	DefaultSearchQuery        = "lofi study chill"
	DefaultReturnTo           = "/settings"
	DefaultLoginPath          = "/auth/login"
	DefaultAddr               = "127.0.0.1:8080"
	DefaultBaseURL            = "http://127.0.0.1:8080"
	DefaultHTTPTimeout        = 10 * time.Second
	DefaultSpotifyAPIURL      = "https://api.spotify.com/v1/"
	DefaultLogLevel           = "info"
	DefaultSessionTTL         = 24 * time.Hour
	defaultIdentityTokenScope = "openid profile email offline_access"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Identity   IdentityConfig   `toml:"identity"`
	Connection ConnectionConfig `toml:"connection"`
	Spotify    SpotifyConfig    `toml:"spotify"`
	Session    SessionConfig    `toml:"session"`
	HTTP       HTTPConfig       `toml:"http"`
	Log        LogConfig        `toml:"log"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"` // public URL, used to build the OAuth callback
}

// IdentityConfig describes the primary OIDC identity provider.
type IdentityConfig struct {
	Issuer       string `toml:"issuer"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Audience     string `toml:"audience"`
	Scope        string `toml:"scope"`
}

// ConnectionConfig names the secondary provider connection and its defaults.
type ConnectionConfig struct {
	Name               string `toml:"name"`
	SearchDefaultQuery string `toml:"search_default_query"`
	DefaultReturnTo    string `toml:"default_return_to"`
	LoginPath          string `toml:"login_path"`
}

// SpotifyConfig points the gateway at the Spotify Web API.
type SpotifyConfig struct {
	APIURL string `toml:"api_url"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	Store         string   `toml:"store"`
	TTL           Duration `toml:"ttl"`
	DatabaseURL   string   `toml:"database_url"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
}

// HTTPConfig bounds outbound calls.
type HTTPConfig struct {
	Timeout Duration `toml:"timeout"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration decoded from strings such as "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    DefaultAddr,
			BaseURL: DefaultBaseURL,
		},
		Identity: IdentityConfig{
			Scope: defaultIdentityTokenScope,
		},
		Connection: ConnectionConfig{
			Name:               DefaultConnectionName,
			SearchDefaultQuery: DefaultSearchQuery,
			DefaultReturnTo:    DefaultReturnTo,
			LoginPath:          DefaultLoginPath,
		},
		Spotify: SpotifyConfig{APIURL: DefaultSpotifyAPIURL},
		Session: SessionConfig{
			Store: StoreMemory,
			TTL:   Duration{DefaultSessionTTL},
		},
		HTTP: HTTPConfig{Timeout: Duration{DefaultHTTPTimeout}},
		Log:  LogConfig{Level: DefaultLogLevel},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty or the file does not exist) and environment overrides.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields with non-empty environment variables.
func (c *Config) applyEnv() {
	setFromEnv(&c.Identity.Issuer, "IDP_ISSUER")
	setFromEnv(&c.Identity.ClientID, "IDP_CLIENT_ID")
	setFromEnv(&c.Identity.ClientSecret, "IDP_CLIENT_SECRET")
	setFromEnv(&c.Identity.Audience, "IDP_AUDIENCE")
	setFromEnv(&c.Server.BaseURL, "APP_BASE_URL")
	setFromEnv(&c.Server.Addr, "APP_ADDR")
	setFromEnv(&c.Session.Store, "SESSION_STORE")
	setFromEnv(&c.Session.DatabaseURL, "DATABASE_URL")
	setFromEnv(&c.Session.RedisAddr, "REDIS_ADDR")
	setFromEnv(&c.Session.RedisPassword, "REDIS_PASSWORD")
	setFromEnv(&c.Spotify.APIURL, "SPOTIFY_API_URL")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that required values are present and consistent.
func (c *Config) Validate() error {
	if c.Identity.Issuer == "" || c.Identity.ClientID == "" || c.Identity.ClientSecret == "" {
		return ErrMissingCredentials
	}

	if c.Connection.Name == "" {
		return fmt.Errorf("%w: connection name is empty", ErrInvalidConfig)
	}

	switch c.Session.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Session.DatabaseURL == "" {
			return fmt.Errorf("%w: postgres session store requires DATABASE_URL", ErrInvalidConfig)
		}
	case StoreRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("%w: redis session store requires REDIS_ADDR", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown session store %q", ErrInvalidConfig, c.Session.Store)
	}

	if c.HTTP.Timeout.Duration <= 0 {
		return fmt.Errorf("%w: http timeout must be positive", ErrInvalidConfig)
	}

	return nil
}

// CallbackURL returns the OAuth redirect URL registered with the identity provider.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/callback"
}
