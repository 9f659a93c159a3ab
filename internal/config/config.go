// Package config loads the process configuration of authapi from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Jnavarr56/authentication-api/security"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheValkey = "valkey"
	CacheRedis  = "redis"
)

// Config is the authapi process configuration.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	Host            string        `env:"AUTHAPI_HOST"`
	MetricsAddr     string        `env:"AUTHAPI_METRICS_ADDR"`
	LogLevel        string        `env:"AUTHAPI_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"AUTHAPI_LOG_FORMAT" envDefault:"json"`
	ShutdownTimeout time.Duration `env:"AUTHAPI_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// TimeZone decides where "the next day" starts for state and cache
	// expiry.
	TimeZone string `env:"AUTHAPI_TIMEZONE" envDefault:"UTC"`

	RefreshLeeway time.Duration `env:"AUTHAPI_REFRESH_LEEWAY" envDefault:"0s"`

	// EncryptionKey is a base64 AES-256 key for refresh tokens at rest.
	// Empty stores them unencrypted.
	EncryptionKey string `env:"AUTHAPI_ENCRYPTION_KEY"`

	Spotify   SpotifyConfig
	Directory DirectoryConfig
	Store     StoreConfig
	Cache     CacheConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
}

// SpotifyConfig holds the Spotify application credentials.
type SpotifyConfig struct {
	ClientID     string   `env:"SPOTIFY_AUTH_CLIENT_ID"`
	ClientSecret string   `env:"SPOTIFY_AUTH_CLIENT_SECRET"`
	RedirectURL  string   `env:"SPOTIFY_AUTH_REDIRECT_URI"`
	Scopes       []string `env:"SPOTIFY_AUTH_SCOPES" envSeparator:"," envDefault:"user-top-read"`

	// Timeout bounds each call to the accounts and profile endpoints.
	Timeout time.Duration `env:"SPOTIFY_AUTH_TIMEOUT" envDefault:"10s"`
}

// DirectoryConfig points at the user service. An empty BaseURL disables
// user resolution.
type DirectoryConfig struct {
	BaseURL   string `env:"GATEWAY_URL"`
	UsersPath string `env:"USERS_API" envDefault:"/users"`

	// ServiceToken is a static bearer token for the user service. When
	// empty, short-lived admin tokens are minted and registered in the
	// shared cache instead.
	ServiceToken  string        `env:"AUTHAPI_DIRECTORY_TOKEN"`
	AdminTokenTTL time.Duration `env:"AUTHAPI_DIRECTORY_ADMIN_TOKEN_TTL" envDefault:"1m"`
	Timeout       time.Duration `env:"AUTHAPI_DIRECTORY_TIMEOUT" envDefault:"10s"`
}

// StoreConfig selects the durable credential store.
type StoreConfig struct {
	Driver     string `env:"AUTHAPI_STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath string `env:"AUTHAPI_SQLITE_PATH" envDefault:"authapi.db"`

	PostgresDSN     string        `env:"DB_URL"`
	MaxOpenConns    int           `env:"AUTHAPI_PG_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"AUTHAPI_PG_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"AUTHAPI_PG_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// CacheConfig selects the cache tier shared by states, credential records
// and admin tokens.
type CacheConfig struct {
	Driver    string `env:"AUTHAPI_CACHE_DRIVER" envDefault:"memory"`
	KeyPrefix string `env:"AUTHAPI_CACHE_PREFIX" envDefault:"authapi:"`

	ValkeyAddr     string `env:"AUTHAPI_VALKEY_ADDR"`
	ValkeyPassword string `env:"AUTHAPI_VALKEY_PASSWORD"`
	ValkeyDB       int    `env:"AUTHAPI_VALKEY_DB" envDefault:"0"`

	RedisURL string `env:"AUTHAPI_REDIS_URL"`
}

// HTTPConfig tunes the HTTP surface.
type HTTPConfig struct {
	CookieName        string `env:"AUTHAPI_COOKIE_NAME" envDefault:"authapi_token"`
	CookieDomain      string `env:"AUTHAPI_COOKIE_DOMAIN"`
	CookieInsecure    bool   `env:"AUTHAPI_COOKIE_INSECURE"`
	RateLimit         int    `env:"AUTHAPI_RATE_LIMIT" envDefault:"10"`
	RateLimitBurst    int    `env:"AUTHAPI_RATE_LIMIT_BURST" envDefault:"20"`
	TrustProxy        bool   `env:"AUTHAPI_TRUST_PROXY"`
	TrustedProxyCount int    `env:"AUTHAPI_TRUSTED_PROXY_COUNT" envDefault:"1"`
	HSTS              bool   `env:"AUTHAPI_HSTS" envDefault:"true"`
	AuditLogging      bool   `env:"AUTHAPI_AUDIT_LOGGING" envDefault:"true"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool   `env:"AUTHAPI_TELEMETRY_ENABLED"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"authentication-api"`
	TracesEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses the environment into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("AUTHAPI_LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("AUTHAPI_TIMEZONE: %w", err))
	}
	if c.RefreshLeeway < 0 {
		errs = append(errs, errors.New("AUTHAPI_REFRESH_LEEWAY must not be negative"))
	}
	if c.EncryptionKey != "" {
		if _, err := security.KeyFromBase64(c.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("AUTHAPI_ENCRYPTION_KEY: %w", err))
		}
	}

	if c.Spotify.ClientID == "" {
		errs = append(errs, errors.New("SPOTIFY_AUTH_CLIENT_ID is required"))
	}
	if c.Spotify.ClientSecret == "" {
		errs = append(errs, errors.New("SPOTIFY_AUTH_CLIENT_SECRET is required"))
	}
	if c.Spotify.RedirectURL == "" {
		errs = append(errs, errors.New("SPOTIFY_AUTH_REDIRECT_URI is required"))
	}
	if c.Spotify.Timeout <= 0 {
		errs = append(errs, errors.New("SPOTIFY_AUTH_TIMEOUT must be positive"))
	}
	if c.Directory.Timeout <= 0 {
		errs = append(errs, errors.New("AUTHAPI_DIRECTORY_TIMEOUT must be positive"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("AUTHAPI_SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("DB_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTHAPI_STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheValkey:
		if c.Cache.ValkeyAddr == "" {
			errs = append(errs, errors.New("AUTHAPI_VALKEY_ADDR is required for the valkey cache"))
		}
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("AUTHAPI_REDIS_URL is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTHAPI_CACHE_DRIVER %q", c.Cache.Driver))
	}

	if c.Directory.BaseURL != "" && c.Directory.ServiceToken == "" && c.Directory.AdminTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTHAPI_DIRECTORY_ADMIN_TOKEN_TTL must be positive"))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("AUTHAPI_LOG_LEVEL: %w", err)
	}
	return level, nil
}
