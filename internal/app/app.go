// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/cache"
	"github.com/fieldops/hnsync/internal/config"
	"github.com/fieldops/hnsync/internal/engine"
	"github.com/fieldops/hnsync/internal/fetch"
	"github.com/fieldops/hnsync/internal/harvest"
	"github.com/fieldops/hnsync/internal/kv"
	"github.com/fieldops/hnsync/internal/ratelimit"
	"github.com/fieldops/hnsync/internal/routing"
	"github.com/fieldops/hnsync/internal/store"
	"github.com/fieldops/hnsync/internal/trips"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// masterKeyName is where a generated sealing key lives in the OS keyring
const masterKeyName = "master-key"

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure proper resource cleanup on shutdown.
type Application struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	LogWriter   io.Writer
	DB          *store.DB
	Store       kv.Store
	Auth        *auth.Manager
	RateLimiter ratelimit.RateLimiter
	Client      *fetch.Client
	Legs        cache.LegCache
	Trips       trips.Store
	Synthesizer *trips.Synthesizer
	Engine      *engine.Engine
	startTime   time.Time
}

// New creates and initializes a new Application with all dependencies.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Opens the SQLite database
//   - Picks the secret backend and the credential sealing key
//   - Creates the paced HTTP client
//   - Creates the route cache, trip synthesizer and sync engine
//
// If any step fails, an error is returned and no resources are left open.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logWriter := setupLogging(cfg)
	logger := log.Logger

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("path", cfg.DBPath).Msg("Database opened")

	kvStore, secretKey, err := secretBackend(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	sealer, err := auth.NewSealer([]byte(secretKey))
	if err != nil {
		db.Close()
		return nil, err
	}
	authManager := auth.NewManager(kvStore, sealer, cfg.Portal.Layout(), cfg.SessionTTL)

	rateLimiter := ratelimit.NewHostLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Debug().
		Float64("rps", cfg.RateLimitRPS).
		Int("burst", cfg.RateLimitBurst).
		Msg("Rate limiter initialized")

	client := fetch.NewClient(fetch.Options{
		Timeout:    cfg.HTTPTimeout,
		Proxy:      cfg.Proxy,
		UserAgents: cfg.UserAgents,
		Limiter:    rateLimiter,
	})

	legs := cache.Tiered{
		Fast:    cache.NewMemoryCache(cfg.RouteCacheSize),
		Backing: db.Legs(),
	}
	if cfg.DirectionsKey == "" {
		logger.Warn().Msg("No Directions API key configured, trips will not be routed")
	}
	router := func(f *fetch.Fetcher) routing.Router {
		return routing.NewCached(routing.NewDirections(f, cfg.DirectionsURL, cfg.DirectionsKey), legs)
	}

	tripStore := db.Trips()
	synth := trips.New(tripStore)

	eng := engine.New(engine.Deps{
		Client:      client,
		Auth:        authManager,
		Store:       kvStore,
		Synthesizer: synth,
		Router:      router,
	}, engine.Options{
		RequestLimit:  cfg.RequestLimit,
		TripReserve:   cfg.TripReserve,
		DetailWorkers: cfg.DetailWorkers,
		Harvest: harvest.Options{
			MaxSecondaryPages: cfg.MaxSecondaryPages,
			MaxPageHops:       cfg.MaxPageHops,
			PageDelay:         cfg.PageDelay,
		},
		LogWriter: logWriter,
	})

	app := &Application{
		Config:      cfg,
		Logger:      &logger,
		LogWriter:   logWriter,
		DB:          db,
		Store:       kvStore,
		Auth:        authManager,
		RateLimiter: rateLimiter,
		Client:      client,
		Legs:        legs,
		Trips:       tripStore,
		Synthesizer: synth,
		Engine:      eng,
		startTime:   time.Now(),
	}

	logger.Info().Str("secret_store", cfg.SecretStore).Msg("Application initialized successfully")
	return app, nil
}

// setupLogging configures the global logger and returns the writer run logs go to
func setupLogging(cfg *config.Config) io.Writer {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logWriter io.Writer
	if cfg.JSONLog {
		// JSON logs to stderr
		logWriter = os.Stderr
	} else {
		// Human-friendly console output otherwise
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(logWriter).With().Timestamp().Logger()

	log.Debug().
		Str("level", level.String()).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")
	return logWriter
}

// secretBackend returns the store for credentials and sessions plus the key
// that seals credentials. The keyring backend keeps secrets out of the
// database and can hold a generated key when none is configured.
func secretBackend(ctx context.Context, cfg *config.Config, db *store.DB) (kv.Store, string, error) {
	if cfg.SecretStore != config.SecretStoreKeyring {
		if cfg.SecretKey == "" {
			return nil, "", fmt.Errorf("%sSECRET_KEY is required with the %s secret store", config.EnvPrefix, config.SecretStoreSQLite)
		}
		return db.KV(), cfg.SecretKey, nil
	}

	ring, err := kv.NewKeyring(kv.KeyringService)
	if err != nil {
		return nil, "", err
	}
	if ring.UsesFiles() {
		log.Warn().Msg("OS keyring unavailable, storing secrets in files")
	}

	key := cfg.SecretKey
	if key == "" {
		if key, err = masterKey(ctx, ring); err != nil {
			return nil, "", err
		}
	}
	return kv.Routed{Secrets: ring, Data: db.KV()}, key, nil
}

// masterKey loads the generated sealing key, creating it on first use
func masterKey(ctx context.Context, ring *kv.Keyring) (string, error) {
	key, ok, err := ring.Get(ctx, masterKeyName)
	if err != nil {
		return "", fmt.Errorf("load master key: %w", err)
	}
	if ok && len(key) >= auth.MinSecretKeyLength {
		return key, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate master key: %w", err)
	}
	key = base64.RawStdEncoding.EncodeToString(raw)
	if err := ring.Put(ctx, masterKeyName, key, 0); err != nil {
		return "", fmt.Errorf("save master key: %w", err)
	}
	log.Info().Msg("Generated a new credential sealing key")
	return key, nil
}

// Fetcher starts a budgeted fetcher for one-off requests outside a sync
func (a *Application) Fetcher() *fetch.Fetcher {
	return a.Client.NewFetcher(a.Config.RequestLimit)
}

// Close gracefully shuts down the application and all its resources.
//
// Any errors during shutdown are logged but do not prevent other shutdown steps.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Debug().Msg("Shutting down application")

	if a.Client != nil {
		a.Client.Close()
	}

	var closeErr error
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Error closing database")
			closeErr = err
		}
	}

	a.Logger.Debug().Dur("uptime", a.Uptime()).Msg("Application shutdown complete")
	return closeErr
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
