// Package bootstrap wires the services shared by the CLI and the API server.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chis/regview/internal/aggregate"
	"github.com/chis/regview/internal/config"
	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/explorer"
	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/metrics"
	"github.com/chis/regview/internal/profiles"
	"github.com/chis/regview/internal/registry"
	"github.com/chis/regview/internal/session"
	"github.com/chis/regview/internal/storage"
)

// ServiceDependencies holds every initialized service.
type ServiceDependencies struct {
	Config    config.Config
	Logger    *logging.Logger
	Storage   storage.Storage
	Profiles  *profiles.Store
	Sessions  *session.Store
	Metrics   *metrics.Metrics
	EventBus  *events.Bus
	Breaker   *registry.CircuitBreaker
	Explorer  *explorer.Service
	Refresher *explorer.Refresher
}

// InitOptions configures service initialization behavior.
type InitOptions struct {
	// Verbose logs each initialization step at info level.
	Verbose bool
}

// ConfigureLogging applies the configured level and format to the default
// logger and returns it.
func ConfigureLogging(cfg config.Config) *logging.Logger {
	logger := logging.New()
	if cfg.LogLevel != "" {
		logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	logger.SetJSON(strings.EqualFold(cfg.LogFormat, "json"))
	logging.SetDefault(logger)
	return logger
}

// InitializeServices builds every dependency from cfg. The returned cleanup
// releases them in reverse order and must be called once.
func InitializeServices(ctx context.Context, cfg config.Config, opts InitOptions) (*ServiceDependencies, func(), error) {
	if result := cfg.Validate(); !result.IsValid() {
		return nil, nil, result.Err()
	} else if result.HasWarnings() {
		for _, w := range result.Warnings {
			logging.Warn("Config: %s", w)
		}
	}

	deps := &ServiceDependencies{Config: cfg, Logger: logging.Default()}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	step := func(format string, args ...any) {
		if opts.Verbose {
			deps.Logger.Info(format, args...)
		} else {
			deps.Logger.Debug(format, args...)
		}
	}

	step("Initializing %s storage at %s...", cfg.StoreBackend, cfg.DBPath)
	store, err := storage.Open(cfg.StoreBackend, cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	deps.Storage = store
	cleanups = append(cleanups, func() {
		if err := store.Close(); err != nil {
			deps.Logger.Warn("Failed to close storage: %v", err)
		}
	})

	deps.Profiles = profiles.NewStore(store)
	deps.Sessions = session.NewStore(store)
	deps.Metrics = metrics.New()
	deps.EventBus = events.NewBus()
	cleanups = append(cleanups, deps.EventBus.Close)
	deps.Breaker = registry.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset)

	agg := aggregate.New(
		aggregate.WithMaxConcurrency(cfg.MaxConcurrency),
		aggregate.WithEventBus(deps.EventBus),
		aggregate.WithRecorder(deps.Metrics),
		aggregate.WithLogger(deps.Logger),
	)

	svcOpts := []explorer.Option{
		explorer.WithEventBus(deps.EventBus),
		explorer.WithLogger(deps.Logger),
	}
	if h, ok := store.(storage.HistoryStore); ok {
		svcOpts = append(svcOpts, explorer.WithHistory(h))
	} else {
		step("Storage backend %s keeps no scan history", cfg.StoreBackend)
	}
	deps.Explorer = explorer.New(deps.Profiles, deps.ClientFactory(), agg, svcOpts...)
	deps.Refresher = explorer.NewRefresher(deps.Explorer, cfg.ScanInterval)

	if err := deps.seedRegistries(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	step("✓ Services initialized")
	return deps, cleanup, nil
}

// ClientFactory returns a factory building registry clients that share the
// circuit breaker and metrics. Clients are reused per descriptor so that the
// rate limit and connection pool span requests.
func (d *ServiceDependencies) ClientFactory() explorer.ClientFactory {
	cfg := d.Config
	var clients sync.Map // registry.Descriptor -> *registry.HTTPClient
	return func(desc registry.Descriptor) (registry.Client, error) {
		if c, ok := clients.Load(desc); ok {
			return c.(*registry.HTTPClient), nil
		}
		c, err := registry.NewHTTPClient(desc,
			registry.WithTimeout(cfg.RequestTimeout),
			registry.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
			registry.WithCircuitBreaker(d.Breaker),
			registry.WithObserver(d.Metrics.ObserveRequest),
			registry.WithLogger(d.Logger),
		)
		if err != nil {
			return nil, err
		}
		actual, _ := clients.LoadOrStore(desc, c)
		return actual.(*registry.HTTPClient), nil
	}
}

// seedRegistries adds the configured registries when no profile exists yet.
func (d *ServiceDependencies) seedRegistries(ctx context.Context) error {
	if len(d.Config.Registries) == 0 {
		return nil
	}
	existing, err := d.Profiles.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, desc := range d.Config.Registries {
		added, err := d.Profiles.Add(ctx, desc)
		if err != nil {
			return fmt.Errorf("failed to seed registry %q: %w", desc.Name, err)
		}
		d.Logger.Info("Seeded registry %s (%s)", added.Name, added.Address())
	}
	return nil
}
