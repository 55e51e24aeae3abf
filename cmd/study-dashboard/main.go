// Command study-dashboard runs the study dashboard's connection and token broker.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/go-study-dashboard/internal/auth"
	"github.com/justestif/go-study-dashboard/internal/config"
	"github.com/justestif/go-study-dashboard/internal/db"
	"github.com/justestif/go-study-dashboard/internal/logging"
	"github.com/justestif/go-study-dashboard/internal/spotify"
	"github.com/justestif/go-study-dashboard/internal/web"
)

func main() {
	app := &cli.Command{
		Name:  "study-dashboard",
		Usage: "Link Spotify to a dashboard account and serve playlists",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides the config file",
					},
					&cli.StringFlag{
						Name:  "log-level",
						Usage: "Log level (debug, info, warn, error)",
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	logger := logging.New(os.Stderr, cfg.Log.Level)
	timeout := cfg.HTTP.Timeout.Duration

	authenticator, err := auth.New(ctx, auth.Config{
		Issuer:       cfg.Identity.Issuer,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		Audience:     cfg.Identity.Audience,
		Scopes:       strings.Fields(cfg.Identity.Scope),
		Timeout:      timeout,
	})
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	exchanger := auth.NewConnectionExchanger(auth.ExchangerConfig{
		TokenURL:     authenticator.TokenURL(),
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Connection:   cfg.Connection.Name,
		Timeout:      timeout,
		Logger:       logger,
	})

	gateway := spotify.NewGateway(
		spotify.WithBaseURL(cfg.Spotify.APIURL),
		spotify.WithTimeout(timeout),
		spotify.WithDefaultQuery(cfg.Connection.SearchDefaultQuery),
	)

	sessions, closeSessions, err := newSessionManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	handlers := web.NewHandlers(web.HandlersConfig{
		Login:              authenticator,
		Tokens:             exchanger,
		Playlists:          gateway,
		Sessions:           sessions,
		Logger:             logger,
		ConnectionName:     cfg.Connection.Name,
		LoginPath:          cfg.Connection.LoginPath,
		DefaultReturnTo:    cfg.Connection.DefaultReturnTo,
		DefaultSearchQuery: cfg.Connection.SearchDefaultQuery,
	})

	server, err := web.NewServer(web.ServerConfig{
		Addr:     cfg.Server.Addr,
		Handlers: handlers,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

// newSessionManager builds the configured session store and a func that
// releases its connections.
func newSessionManager(ctx context.Context, cfg *config.Config, logger *log.Logger) (web.SessionManager, func(), error) {
	ttl := cfg.Session.TTL.Duration

	switch cfg.Session.Store {
	case config.StorePostgres:
		database, err := db.New(ctx, cfg.Session.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, nil, err
		}
		if n, err := database.Sessions().DeleteExpired(ctx); err != nil {
			logger.Warn("pruning expired sessions", "err", err)
		} else if n > 0 {
			logger.Info("pruned expired sessions", "count", n)
		}
		logger.Info("using postgres session store")
		return web.NewDBSessionStore(database, ttl), database.Close, nil

	case config.StoreRedis:
		client, err := web.NewRedisClient(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using redis session store", "addr", cfg.Session.RedisAddr)
		return web.NewRedisSessionStore(client, ttl), func() { _ = client.Close() }, nil

	default:
		logger.Info("using in-memory session store")
		return web.NewSessionStore(ttl), func() {}, nil
	}
}
