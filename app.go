package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"nostr_magiclink/internal/config"
	"nostr_magiclink/internal/credential"
	"nostr_magiclink/internal/database"
	"nostr_magiclink/internal/event"
	"nostr_magiclink/internal/logging"
	"nostr_magiclink/internal/magiclink"
	"nostr_magiclink/internal/relay"
	"nostr_magiclink/internal/token"
)

const issuerName = "nostr-magiclink"

// App is the dependency graph shared by the commands that talk to relays.
type App struct {
	Config   config.Config
	Log      *slog.Logger
	Builder  *event.Builder
	Relays   *relay.Manager
	Tokens   *token.Issuer
	Sessions database.SessionStore
	Links    *magiclink.Service

	closers []func() error
}

// setup loads configuration and installs the process logger.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(log)
	return cfg, log, nil
}

func NewApp(cfg config.Config, log *slog.Logger) (*App, error) {
	policy, err := relay.PolicyByName(cfg.RelaySendPolicy)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log}
	a.Builder = event.NewBuilder(event.Config{
		MaxFuture: cfg.EventMaxFuture,
		MaxAge:    cfg.EventMaxAge,
	})
	a.Relays = relay.NewManager(relay.Config{
		PrivateKey: cfg.PrivateKey,
		Relays:     cfg.RelayURLs,
		Timeout:    cfg.RelayTimeout,
		Policy:     policy,
		AwaitOK:    cfg.RelayAwaitOK,
		Builder:    a.Builder,
		Logger:     log.With("component", "relay"),
	})
	a.Tokens = token.New(token.Config{
		Secret: token.Static(cfg.JWTSecret),
		TTL:    cfg.MagicLinkExpiry,
		Issuer: issuerName,
		Logger: log.With("component", "token"),
	})

	switch cfg.SessionStore {
	case config.StoreSQLite:
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		store := database.NewGormStore(db)
		a.Sessions = store
		a.closers = append(a.closers, store.Close)
	default:
		a.Sessions = database.NewMemoryStore()
	}

	a.Links, err = magiclink.New(a.Relays, a.Tokens, magiclink.Config{
		VerifyURL:     cfg.MagicLinkBaseURL,
		AppName:       cfg.AppName,
		DefaultLocale: cfg.DefaultLocale,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		Sessions:      a.Sessions,
		Logger:        log.With("component", "magiclink"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Credentials loads the session signing key from SessionKeyFile, creating
// the file on first start. Without a file the key lives only in memory.
func (a *App) Credentials() (*credential.Issuer, error) {
	cfg := credential.Config{Issuer: issuerName, TTL: a.Config.SessionTTL}

	path := a.Config.SessionKeyFile
	if path == "" {
		a.Log.Warn("SESSION_KEY_FILE not set, session credentials will not survive a restart")
		return credential.NewIssuer(cfg)
	}

	key, err := credential.ReadKeyFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if key, err = credential.GenerateKey(); err != nil {
			return nil, err
		}
		if err := credential.WriteKeyFile(path, key); err != nil {
			return nil, fmt.Errorf("failed to write session key: %w", err)
		}
		a.Log.Info("generated session key", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}

	cfg.Key = key
	return credential.NewIssuer(cfg)
}

func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Log.Warn("failed to release resource", "error", err)
		}
	}
}
