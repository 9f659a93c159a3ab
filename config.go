package authapi

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds the HTTP handler configuration
type Config struct {
	// Cookie controls the cookie that carries the transport token.
	Cookie CookieConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// CookieConfig describes the transport token cookie.
type CookieConfig struct {
	// Name of the cookie (default: "authapi_token")
	Name string

	// Domain of the cookie. Empty means host-only.
	Domain string

	// Path of the cookie (default: "/")
	Path string

	// MaxAge bounds how long browsers keep the cookie (default: 30 days).
	MaxAge time.Duration

	// SameSite mode (default: http.SameSiteLaxMode, which the provider
	// redirect needs)
	SameSite http.SameSite

	// AllowInsecure drops the Secure attribute. Only for local development
	// over plain HTTP.
	AllowInsecure bool
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second per IP (default: 10, 0 disables limiting)
	Rate int

	// Burst is the maximum burst size (default: 20)
	Burst int

	// CleanupInterval is how often idle limiters are swept (default: 5 minutes)
	CleanupInterval time.Duration

	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the service.
	TrustedProxyCount int
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	// EnableAuditLogging enables the security audit log (default: true
	// through DefaultConfig)
	EnableAuditLogging bool

	// StrictTransportSecurity adds the HSTS header to every response.
	StrictTransportSecurity bool
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		RateLimit: RateLimitConfig{
			Rate:  10,
			Burst: 20,
		},
		Security: SecurityConfig{
			EnableAuditLogging: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "authapi_token"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	if cfg.Cookie.MaxAge == 0 {
		cfg.Cookie.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.Cookie.SameSite == 0 {
		cfg.Cookie.SameSite = http.SameSiteLaxMode
	}
	if cfg.RateLimit.Rate > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = cfg.RateLimit.Rate * 2
	}
	if cfg.RateLimit.CleanupInterval == 0 {
		cfg.RateLimit.CleanupInterval = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}
