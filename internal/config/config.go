// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nostr_magiclink/internal/errs"
	"nostr_magiclink/internal/identity"
	"nostr_magiclink/internal/locale"
	"nostr_magiclink/internal/relay"
)

const (
	DevSecret    = "dev-secret"
	DefaultRelay = "wss://relay.damus.io"
	DefaultPort  = "3003"

	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	Environment string

	PrivateKey      string
	RelayURLs       []string
	RelayTimeout    time.Duration
	RelaySendPolicy string
	RelayAwaitOK    bool

	JWTSecret        string
	MagicLinkBaseURL string
	MagicLinkExpiry  time.Duration
	AppName          string
	DefaultLocale    string
	RetryAttempts    int
	RetryDelay       time.Duration

	SessionStore   string
	DatabasePath   string
	SweepInterval  time.Duration
	SessionKeyFile string
	SessionTTL     time.Duration

	EventMaxFuture time.Duration
	EventMaxAge    time.Duration

	Port        string
	CORSOrigins []string
	LogLevel    slog.Level
	LogFormat   string
}

func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	return parse(os.LookupEnv)
}

type lookupFunc func(key string) (string, bool)

func parse(lookup lookupFunc) (Config, error) {
	env := reader{lookup: lookup}
	c := Config{}

	c.Environment = strings.ToLower(env.first(EnvDevelopment, "APP_ENV", "NODE_ENV"))

	if raw := env.str("NOSTR_PRIVATE_KEY", ""); raw != "" {
		priv, err := identity.CleanPrivateKey(raw)
		if err != nil {
			return Config{}, errs.Wrap(errs.Validation, "NOSTR_PRIVATE_KEY must be a 64-character hex key", err)
		}
		c.PrivateKey = priv
	}

	c.RelayURLs = splitList(env.first("", "RELAY_URLS", "RELAY_URL"))
	if len(c.RelayURLs) == 0 {
		if c.Environment == EnvProduction || c.Environment == EnvTest {
			return Config{}, errs.New(errs.Configuration, "no relay urls provided; set RELAY_URLS or RELAY_URL")
		}
		c.RelayURLs = []string{DefaultRelay}
	}
	for _, u := range c.RelayURLs {
		if err := relay.ValidateURL(u); err != nil {
			return Config{}, err
		}
	}

	c.Port = env.str("PORT", DefaultPort)
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return Config{}, errs.New(errs.Validation, fmt.Sprintf("invalid PORT %q", c.Port))
	}

	c.JWTSecret = env.str("JWT_SECRET", "")
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return Config{}, errs.New(errs.Configuration, "JWT_SECRET is required in production")
		}
		c.JWTSecret = DevSecret
	}
	if c.IsProduction() && c.JWTSecret == DevSecret {
		return Config{}, errs.New(errs.Configuration, "JWT_SECRET must not be the development secret in production")
	}

	c.MagicLinkBaseURL = env.str("MAGIC_LINK_BASE_URL", "")
	if c.MagicLinkBaseURL == "" {
		if c.IsProduction() {
			return Config{}, errs.New(errs.Configuration, "MAGIC_LINK_BASE_URL is required in production")
		}
		c.MagicLinkBaseURL = "http://localhost:" + c.Port + "/auth/magiclink/verify"
	}
	if u, err := url.Parse(c.MagicLinkBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, errs.New(errs.Validation, "MAGIC_LINK_BASE_URL must be an absolute http(s) url")
	}

	c.AppName = env.str("APP_NAME", "Nostr")
	c.DefaultLocale = env.str("DEFAULT_LOCALE", locale.Default)
	c.CORSOrigins = splitList(env.str("CORS_ORIGIN", "*"))
	c.LogFormat = strings.ToLower(env.str("LOG_FORMAT", "text"))
	c.RelaySendPolicy = strings.ToLower(env.str("RELAY_SEND_POLICY", "all"))
	c.SessionStore = strings.ToLower(env.str("SESSION_STORE", StoreMemory))
	c.DatabasePath = env.str("DATABASE_PATH", "file:magiclink.db?cache=shared")
	c.SessionKeyFile = env.str("SESSION_KEY_FILE", "")

	if err := c.LogLevel.UnmarshalText([]byte(env.str("LOG_LEVEL", "info"))); err != nil {
		return Config{}, errs.Wrap(errs.Validation, "invalid LOG_LEVEL", err)
	}
	if _, err := relay.PolicyByName(c.RelaySendPolicy); err != nil {
		return Config{}, errs.Wrap(errs.Validation, "invalid RELAY_SEND_POLICY", err)
	}
	if c.SessionStore != StoreMemory && c.SessionStore != StoreSQLite {
		return Config{}, errs.New(errs.Validation, fmt.Sprintf("SESSION_STORE must be %q or %q", StoreMemory, StoreSQLite))
	}

	minutes := env.integer("MAGIC_LINK_EXPIRY_MINUTES", 15)
	c.RetryAttempts = env.integer("RETRY_ATTEMPTS", 3)
	c.RelayAwaitOK = env.boolean("RELAY_AWAIT_OK", true)
	c.RelayTimeout = env.duration("RELAY_TIMEOUT", 10*time.Second)
	c.RetryDelay = env.millis("RETRY_DELAY", time.Second)
	c.SweepInterval = env.duration("SWEEP_INTERVAL", time.Minute)
	c.SessionTTL = env.duration("SESSION_TTL", 24*time.Hour)
	c.EventMaxFuture = env.duration("EVENT_MAX_FUTURE", 60*time.Second)
	c.EventMaxAge = env.duration("EVENT_MAX_AGE", 365*24*time.Hour)
	if env.err != nil {
		return Config{}, env.err
	}

	if minutes <= 0 {
		return Config{}, errs.New(errs.Validation, "MAGIC_LINK_EXPIRY_MINUTES must be positive")
	}
	c.MagicLinkExpiry = time.Duration(minutes) * time.Minute
	if c.RetryAttempts < 1 {
		return Config{}, errs.New(errs.Validation, "RETRY_ATTEMPTS must be at least 1")
	}

	return c, nil
}

// reader collects the first parse error so callers can read every key
// and check once.
type reader struct {
	lookup lookupFunc
	err    error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) first(def string, keys ...string) string {
	for _, k := range keys {
		if v := r.str(k, ""); v != "" {
			return v
		}
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v)
		return def
	}
	return b
}

// duration accepts Go durations ("10s"). Unit-less values are rejected.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		r.fail(key, v)
		return def
	}
	return d
}

// millis is duration that also takes a bare integer as milliseconds.
func (r *reader) millis(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if ms, err := strconv.Atoi(v); err == nil {
		if ms < 0 {
			r.fail(key, v)
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	return r.duration(key, def)
}

func (r *reader) fail(key, value string) {
	if r.err == nil {
		r.err = errs.New(errs.Validation, fmt.Sprintf("invalid %s %q", key, value))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
