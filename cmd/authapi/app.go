package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	authapi "github.com/Jnavarr56/authentication-api"
	"github.com/Jnavarr56/authentication-api/cache"
	"github.com/Jnavarr56/authentication-api/cache/memory"
	rediscache "github.com/Jnavarr56/authentication-api/cache/redis"
	valkeycache "github.com/Jnavarr56/authentication-api/cache/valkey"
	"github.com/Jnavarr56/authentication-api/credstore"
	"github.com/Jnavarr56/authentication-api/directory"
	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/config"
	"github.com/Jnavarr56/authentication-api/providers/spotify"
	"github.com/Jnavarr56/authentication-api/refresh"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/state"
	"github.com/Jnavarr56/authentication-api/storage"
	memstore "github.com/Jnavarr56/authentication-api/storage/memory"
	"github.com/Jnavarr56/authentication-api/storage/postgres"
	"github.com/Jnavarr56/authentication-api/storage/sqlite"
)

// app is the fully wired service.
type app struct {
	inst    *instrumentation.Instrumentation
	service *authapi.Service
	routes  http.Handler
	closers []func() error
}

// Close releases everything buildApp opened, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.inst, err = instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Enabled:        cfg.Telemetry.Enabled || cfg.MetricsAddr != "" || cfg.Telemetry.TracesEndpoint != "",
		MetricExporter: metricExporter(cfg),
		TracesEndpoint: cfg.Telemetry.TracesEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	a.onClose(func() error { return a.inst.Shutdown(context.Background()) })

	auditor := security.NewAuditor(logger, cfg.HTTP.AuditLogging)
	auditor.SetMetrics(a.inst.Metrics())

	caches, err := openCaches(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	a.onClose(caches.Close)

	durable, err := openStore(ctx, cfg.Store, logger, a.inst)
	if err != nil {
		return nil, err
	}
	a.onClose(durable.Close)

	var encryptor *security.Encryptor
	if cfg.EncryptionKey != "" {
		key, err := security.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		if encryptor, err = security.NewEncryptor(key); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("AUTHAPI_ENCRYPTION_KEY not set, refresh tokens are stored unencrypted")
	}

	spotifyClient, directoryClient := outboundClients(cfg, a.inst)

	provider, err := spotify.NewProvider(&spotify.Config{
		ClientID:        cfg.Spotify.ClientID,
		ClientSecret:    cfg.Spotify.ClientSecret,
		RedirectURL:     cfg.Spotify.RedirectURL,
		Scopes:          cfg.Spotify.Scopes,
		HTTPClient:      spotifyClient,
		Instrumentation: a.inst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create spotify provider: %w", err)
	}

	states, err := state.NewManager(state.Config{
		Cache:           caches.states,
		Location:        cfg.Location(),
		Logger:          logger,
		Instrumentation: a.inst,
	})
	if err != nil {
		return nil, err
	}

	creds, err := credstore.New(credstore.Config{
		Durable:         durable,
		Cache:           caches.records,
		Encryptor:       encryptor,
		Location:        cfg.Location(),
		Logger:          logger,
		Instrumentation: a.inst,
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := refresh.New(refresh.Config{
		Records:         creds,
		Provider:        provider,
		Leeway:          cfg.RefreshLeeway,
		Logger:          logger,
		Auditor:         auditor,
		Instrumentation: a.inst,
	})
	if err != nil {
		return nil, err
	}

	users, err := openDirectory(cfg, caches, directoryClient, logger)
	if err != nil {
		return nil, err
	}

	a.service, err = authapi.NewService(authapi.ServiceConfig{
		Provider:        provider,
		States:          states,
		Credentials:     creds,
		Refresher:       orchestrator,
		Directory:       users,
		Auditor:         auditor,
		Logger:          logger,
		Instrumentation: a.inst,
	})
	if err != nil {
		return nil, err
	}

	handler := authapi.NewHandler(a.service, &authapi.Config{
		Cookie: authapi.CookieConfig{
			Name:          cfg.HTTP.CookieName,
			Domain:        cfg.HTTP.CookieDomain,
			AllowInsecure: cfg.HTTP.CookieInsecure,
		},
		RateLimit: authapi.RateLimitConfig{
			Rate:              cfg.HTTP.RateLimit,
			Burst:             cfg.HTTP.RateLimitBurst,
			TrustProxy:        cfg.HTTP.TrustProxy,
			TrustedProxyCount: cfg.HTTP.TrustedProxyCount,
		},
		Security: authapi.SecurityConfig{
			EnableAuditLogging:      cfg.HTTP.AuditLogging,
			StrictTransportSecurity: cfg.HTTP.HSTS,
		},
		Logger: logger,
	})
	a.onClose(func() error {
		handler.Close()
		return nil
	})

	a.routes = otelhttp.NewHandler(handler.Routes(), "authapi",
		otelhttp.WithTracerProvider(a.inst.TracerProvider()),
		otelhttp.WithMeterProvider(a.inst.MeterProvider()))
	return a, nil
}

// outboundClients returns the traced HTTP clients for Spotify and the user
// service. They share one transport and differ in timeout.
func outboundClients(cfg *config.Config, inst *instrumentation.Instrumentation) (spotifyClient, directoryClient *http.Client) {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithTracerProvider(inst.TracerProvider()),
		otelhttp.WithMeterProvider(inst.MeterProvider()))
	return &http.Client{Transport: transport, Timeout: cfg.Spotify.Timeout},
		&http.Client{Transport: transport, Timeout: cfg.Directory.Timeout}
}

func metricExporter(cfg *config.Config) string {
	if cfg.MetricsAddr != "" {
		return instrumentation.ExporterPrometheus
	}
	return instrumentation.ExporterNone
}

// caches are the three cache namespaces the service uses. With a network
// backend they share one client.
type caches struct {
	states  cache.Cache
	records cache.Cache
	admin   cache.Cache
	shared  bool
	closers []func() error
}

func (c *caches) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openCaches(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*caches, error) {
	switch cfg.Driver {
	case config.CacheValkey:
		client, err := valkeycache.Connect(valkeycache.Config{
			Address:  cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Valkey", "address", cfg.ValkeyAddr, "db", cfg.ValkeyDB)
		return &caches{
			states:  valkeycache.NewFromClient(client, cfg.KeyPrefix+"state:", logger),
			records: valkeycache.NewFromClient(client, cfg.KeyPrefix+"token:", logger),
			admin:   valkeycache.NewFromClient(client, cfg.KeyPrefix+"admin:", logger),
			shared:  true,
			closers: []func() error{func() error { client.Close(); return nil }},
		}, nil

	case config.CacheRedis:
		client, err := rediscache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis")
		return &caches{
			states:  rediscache.NewFromClient(client, cfg.KeyPrefix+"state:", logger),
			records: rediscache.NewFromClient(client, cfg.KeyPrefix+"token:", logger),
			admin:   rediscache.NewFromClient(client, cfg.KeyPrefix+"admin:", logger),
			shared:  true,
			closers: []func() error{client.Close},
		}, nil

	default:
		states := memory.New(memory.WithLogger(logger))
		records := memory.New(memory.WithLogger(logger))
		admin := memory.New(memory.WithLogger(logger))
		c := &caches{states: states, records: records, admin: admin}
		for _, m := range []*memory.Cache{states, records, admin} {
			c.closers = append(c.closers, func() error { m.Stop(); return nil })
		}
		return c, nil
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.RecordStore, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			Logger:          logger,
			Instrumentation: inst,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil

	case config.StoreMemory:
		logger.Warn("Using the in-memory credential store, records are lost on restart")
		s := memstore.New()
		s.SetLogger(logger)
		s.SetInstrumentation(inst)
		return s, nil

	default:
		s, err := sqlite.Open(cfg.SQLitePath, sqlite.WithLogger(logger), sqlite.WithInstrumentation(inst))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

func openDirectory(cfg *config.Config, c *caches, httpClient *http.Client, logger *slog.Logger) (directory.Client, error) {
	if cfg.Directory.BaseURL == "" {
		logger.Warn("GATEWAY_URL not set, users are not resolved in the directory")
		return nil, nil
	}

	var ts oauth2.TokenSource
	if cfg.Directory.ServiceToken != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Directory.ServiceToken, TokenType: "Bearer"})
	} else {
		if !c.shared {
			logger.Warn("Admin tokens are registered in an in-process cache the user service cannot read")
		}
		admin, err := directory.NewAdminTokenSource(c.admin, cfg.Directory.AdminTokenTTL)
		if err != nil {
			return nil, err
		}
		ts = admin
	}

	client, err := directory.NewHTTPClient(directory.HTTPConfig{
		BaseURL:     cfg.Directory.BaseURL,
		UsersPath:   cfg.Directory.UsersPath,
		TokenSource: ts,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}
	return client, nil
}
