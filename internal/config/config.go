// Package config loads coinsync settings from .env files and COINSYNC_*
// environment variables. Process environment wins over file values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "COINSYNC_"

// Config is the full runtime configuration.
type Config struct {
	CachePath string // local SQLite cache; ":memory:" for an ephemeral run
	DSN       string // Postgres connection string for the users table

	Listen      string
	CORSOrigins []string
	FrontendURL string

	Auth   AuthConfig
	Stripe StripeConfig
	Retry  RetryConfig
	Logs   LogConfig

	CatalogPath string // empty selects the built-in catalog
}

type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
	// DevUID authenticates every API request as this uid. Local use only.
	DevUID string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type RetryConfig struct {
	Attempts int
	Base     time.Duration
}

type LogConfig struct {
	Format string // text or json
	Level  string // debug, info, warn, error
}

// Error reports a variable that could not be parsed.
type Error struct {
	Key   string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		CachePath:   "coinsync.db",
		Listen:      ":8080",
		CORSOrigins: []string{"http://localhost:3000"},
		FrontendURL: "http://localhost:3000",
		Auth: AuthConfig{
			Audience: "authenticated",
		},
		Retry: RetryConfig{
			Attempts: 3,
			Base:     time.Second,
		},
		Logs: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads the given .env files (".env" when none are named and it
// exists) and overlays the process environment.
func Load(files ...string) (Config, error) {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}

	fileVals := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("config: read %s: %w", f, err)
		}
		for k, v := range vals {
			fileVals[k] = v
		}
	}

	return Parse(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	})
}

// Parse builds a Config from a lookup function. Unset keys keep defaults.
func Parse(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("CACHE", &cfg.CachePath)
	p.str("DSN", &cfg.DSN)
	p.str("LISTEN", &cfg.Listen)
	p.list("CORS_ORIGINS", &cfg.CORSOrigins)
	p.str("FRONTEND_URL", &cfg.FrontendURL)
	p.str("CATALOG", &cfg.CatalogPath)

	p.str("JWT_SECRET", &cfg.Auth.JWTSecret)
	p.str("JWKS_URL", &cfg.Auth.JWKSURL)
	p.str("JWT_ISSUER", &cfg.Auth.Issuer)
	p.str("JWT_AUDIENCE", &cfg.Auth.Audience)
	p.str("DEV_UID", &cfg.Auth.DevUID)

	p.str("STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey)
	p.str("STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret)

	p.integer("RETRY_ATTEMPTS", &cfg.Retry.Attempts)
	p.duration("RETRY_BASE", &cfg.Retry.Base)

	p.str("LOG_FORMAT", &cfg.Logs.Format)
	p.str("LOG_LEVEL", &cfg.Logs.Level)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Retry.Attempts < 1 {
		return &Error{Key: Prefix + "RETRY_ATTEMPTS", Value: strconv.Itoa(c.Retry.Attempts), Err: errors.New("must be at least 1")}
	}
	if c.Retry.Base < 0 {
		return &Error{Key: Prefix + "RETRY_BASE", Value: c.Retry.Base.String(), Err: errors.New("must not be negative")}
	}
	switch c.Logs.Format {
	case "text", "json":
	default:
		return &Error{Key: Prefix + "LOG_FORMAT", Value: c.Logs.Format, Err: errors.New("must be text or json")}
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWKSURL != "" {
		return &Error{Key: Prefix + "JWKS_URL", Value: c.Auth.JWKSURL, Err: errors.New("set either JWT_SECRET or JWKS_URL, not both")}
	}
	return nil
}

// AuthConfigured reports whether bearer tokens can be verified.
func (c Config) AuthConfigured() bool {
	return c.Auth.JWTSecret != "" || c.Auth.JWKSURL != ""
}

// BillingConfigured reports whether Stripe checkout can be offered.
func (c Config) BillingConfigured() bool {
	return c.Stripe.SecretKey != ""
}

type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(name string) (string, string, bool) {
	key := Prefix + name
	v, ok := p.lookup(key)
	if !ok {
		return key, "", false
	}
	return key, strings.TrimSpace(v), true
}

func (p *parser) str(name string, dst *string) {
	if _, v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *parser) list(name string, dst *[]string) {
	_, v, ok := p.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (p *parser) integer(name string, dst *int) {
	key, v, ok := p.get(name)
	if !ok || v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = &Error{Key: key, Value: v, Err: err}
		return
	}
	*dst = n
}

func (p *parser) duration(name string, dst *time.Duration) {
	key, v, ok := p.get(name)
	if !ok || v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = &Error{Key: key, Value: v, Err: err}
		return
	}
	*dst = d
}
