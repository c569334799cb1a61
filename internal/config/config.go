// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads shavon configuration from defaults, a YAML file,
// SHAVON_ environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/logging"
	"github.com/holomush/shavon/internal/store"
)

// EnvPrefix prefixes every environment override. Sections are separated by a
// double underscore: SHAVON_AUTH__COOKIE_NAME sets auth.cookie_name.
const EnvPrefix = "SHAVON_"

// MinSecretKeyLength is the minimum HMAC secret size in bytes.
const MinSecretKeyLength = 32

// Config is the full application configuration.
type Config struct {
	App      AppConfig      `koanf:"app"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
}

// AppConfig names the application in logs and the index route.
type AppConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// TrustProxy takes the client address from X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustProxy bool `koanf:"trust_proxy"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	MaxConns       int32         `koanf:"max_conns"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// AuthConfig configures cookies, tokens and sessions.
type AuthConfig struct {
	CookieName         string        `koanf:"cookie_name"`
	CookieDomain       string        `koanf:"cookie_domain"`
	CookieLifespan     time.Duration `koanf:"cookie_lifespan"`
	CookieSecure       bool          `koanf:"cookie_secure"`
	SecretKey          string        `koanf:"secret_key"`
	Algorithm          string        `koanf:"algorithm"`
	TokenTTL           time.Duration `koanf:"token_ttl"`
	SessionIdleTTL     time.Duration `koanf:"session_idle_ttl"`
	SessionKeyAttempts int           `koanf:"session_key_attempts"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		App: AppConfig{Name: "Shavon", Version: "dev"},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			MetricsAddr:     "127.0.0.1:9100",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:       15,
			ConnectTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			CookieName:         "auth_token",
			CookieDomain:       "localhost",
			CookieLifespan:     time.Hour,
			Algorithm:          "HS256",
			SessionKeyAttempts: 5,
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// defaultsMap flattens Default into koanf keys.
func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"app.name":                  d.App.Name,
		"app.version":               d.App.Version,
		"server.host":               d.Server.Host,
		"server.port":               d.Server.Port,
		"server.metrics_addr":       d.Server.MetricsAddr,
		"server.shutdown_timeout":   d.Server.ShutdownTimeout,
		"server.trust_proxy":        d.Server.TrustProxy,
		"database.url":              d.Database.URL,
		"database.max_conns":        d.Database.MaxConns,
		"database.connect_timeout":  d.Database.ConnectTimeout,
		"auth.cookie_name":          d.Auth.CookieName,
		"auth.cookie_domain":        d.Auth.CookieDomain,
		"auth.cookie_lifespan":      d.Auth.CookieLifespan,
		"auth.cookie_secure":        d.Auth.CookieSecure,
		"auth.secret_key":           d.Auth.SecretKey,
		"auth.algorithm":            d.Auth.Algorithm,
		"auth.token_ttl":            d.Auth.TokenTTL,
		"auth.session_idle_ttl":     d.Auth.SessionIdleTTL,
		"auth.session_key_attempts": d.Auth.SessionKeyAttempts,
		"log.format":                d.Log.Format,
		"log.level":                 d.Log.Level,
	}
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is an explicit config path. A missing explicit file is an error.
	File string
	// DefaultFile is tried when File is empty. It may be absent.
	DefaultFile string
	// Flags holds command-line overrides. Only flags the user set apply.
	Flags *pflag.FlagSet
	// FlagKeys maps flag names to config keys. Flags not listed are ignored.
	FlagKeys map[string]string
	// Version seeds app.version beneath the file and environment layers.
	Version string
	// DatabaseOnly validates with ValidateDatabase instead of Validate.
	DatabaseOnly bool
}

// Load builds the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaultsMap() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}
	if opts.Version != "" {
		_ = k.Set("app.version", opts.Version) //nolint:errcheck // Set on a plain key cannot fail
	}

	if err := loadFile(k, opts); err != nil {
		return nil, err
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "unmarshal").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}

	validate := cfg.Validate
	if opts.DatabaseOnly {
		validate = cfg.ValidateDatabase
	}
	if err := validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, opts LoadOptions) error {
	path := opts.File
	if path == "" {
		path = opts.DefaultFile
		if path == "" {
			return nil
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	provider := env.ProviderWithValue(EnvPrefix, ".", func(name, val string) (string, any) {
		return envKey(name), val
	})
	if err := k.Load(provider, nil); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}
	return nil
}

// envKey turns SHAVON_AUTH__COOKIE_NAME into auth.cookie_name.
func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

var supportedAlgorithms = []string{"HS256", "HS384", "HS512"}

func invalid(key string, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(key+": "+format, args...)
}

// Validate checks every value the server needs. The returned error names
// the first offending key.
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "must be positive")
	}
	if c.Auth.CookieName == "" {
		return invalid("auth.cookie_name", "is required")
	}
	if c.Auth.CookieLifespan <= 0 {
		return invalid("auth.cookie_lifespan", "must be positive")
	}
	if len(c.Auth.SecretKey) < MinSecretKeyLength {
		// Never echo the secret.
		return invalid("auth.secret_key", "must be at least %d bytes", MinSecretKeyLength)
	}
	if !slices.Contains(supportedAlgorithms, c.Auth.Algorithm) {
		return invalid("auth.algorithm", "must be one of %s, got %q", strings.Join(supportedAlgorithms, ", "), c.Auth.Algorithm)
	}
	if c.Auth.TokenTTL < 0 {
		return invalid("auth.token_ttl", "cannot be negative")
	}
	return nil
}

// ValidateDatabase checks only what administrative commands need: the
// pool, session housekeeping and logging.
func (c *Config) ValidateDatabase() error {
	if c.Database.MaxConns < 1 {
		return invalid("database.max_conns", "must be at least 1, got %d", c.Database.MaxConns)
	}
	if c.Auth.SessionIdleTTL < 0 {
		return invalid("auth.session_idle_ttl", "cannot be negative")
	}
	if c.Auth.SessionKeyAttempts < 1 {
		return invalid("auth.session_key_attempts", "must be at least 1, got %d", c.Auth.SessionKeyAttempts)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	return nil
}

// ListenAddr is the host:port of the application server.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// TokenConfig maps the auth section onto the token issuer.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret:    []byte(c.Auth.SecretKey),
		Algorithm: c.Auth.Algorithm,
		TTL:       c.Auth.TokenTTL,
	}
}

// SessionStoreConfig maps the auth section onto the session store.
func (c *Config) SessionStoreConfig() auth.SessionStoreConfig {
	return auth.SessionStoreConfig{
		KeyAttempts: c.Auth.SessionKeyAttempts,
		IdleTTL:     c.Auth.SessionIdleTTL,
	}
}

// PoolConfig maps the database section onto store.OpenPool.
func (c *Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		URL:            c.Database.URL,
		MaxConns:       c.Database.MaxConns,
		ConnectTimeout: c.Database.ConnectTimeout,
	}
}

// LoggingOptions maps the log and app sections onto logging.Setup.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Service: strings.ToLower(c.App.Name),
		Version: c.App.Version,
		Format:  c.Log.Format,
		Level:   c.Log.Level,
	}
}
