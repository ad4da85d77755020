// Package app wires configuration into long-lived services: the environment
// classifier, protocol handlers, cache, event dispatcher, source store,
// registry and HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/calendar-sources/internal/api"
	"github.com/JakeFAU/calendar-sources/internal/cache"
	"github.com/JakeFAU/calendar-sources/internal/config"
	"github.com/JakeFAU/calendar-sources/internal/environment"
	"github.com/JakeFAU/calendar-sources/internal/events"
	"github.com/JakeFAU/calendar-sources/internal/id/uuid"
	"github.com/JakeFAU/calendar-sources/internal/metrics"
	"github.com/JakeFAU/calendar-sources/internal/policy/ratelimit"
	"github.com/JakeFAU/calendar-sources/internal/protocol"
	"github.com/JakeFAU/calendar-sources/internal/protocol/extension"
	"github.com/JakeFAU/calendar-sources/internal/protocol/file"
	"github.com/JakeFAU/calendar-sources/internal/protocol/github"
	"github.com/JakeFAU/calendar-sources/internal/protocol/web"
	"github.com/JakeFAU/calendar-sources/internal/registry"
	"github.com/JakeFAU/calendar-sources/internal/storage/local"
	"github.com/JakeFAU/calendar-sources/internal/storage/memory"
	"github.com/JakeFAU/calendar-sources/internal/storage/postgres"
)

// App holds the shared services for one process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	classifier *environment.Classifier
	events     *events.Dispatcher
	registry   *registry.Registry
	server     *api.Server
	closers    []func()
}

// New builds every service from cfg. It fails fast when a backing store
// cannot be opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	packages := newPackageResolver(cfg)
	a.classifier = environment.New(environment.ProbeFunc(func() environment.Signals {
		return signalsFor(ctx, cfg, packages, logger)
	}), logger.Named("environment"))

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.events = events.NewDispatcher(events.Config{Logger: logger.Named("events"), IDs: uuid.New()})
	a.events.Subscribe(events.TypeAll, events.NewLogListener(logger.Named("events")))

	calendarCache := cache.New(cache.Config{
		TTL:             cfg.Cache.TTL,
		MaxSize:         cfg.Cache.MaxSize,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, cache.WithLogger(logger.Named("cache")))

	opts := []registry.Option{
		registry.WithLogger(logger.Named("registry")),
		registry.WithEnvironment(a.classifier),
		registry.WithCache(calendarCache),
		registry.WithDispatcher(a.events),
	}
	if store != nil {
		opts = append(opts, registry.WithStore(store))
	}
	a.registry = registry.New(registry.Config{
		RequestTimeout: cfg.RequestTimeout(),
		AutoUpdate:     cfg.AutoUpdate.Enabled,
		UpdateInterval: cfg.AutoUpdate.Interval,
		DevMode:        cfg.Environment.DevMode,
	}, opts...)

	if err := a.registerHandlers(packages); err != nil {
		a.Close()
		return nil, err
	}

	a.server = api.NewServer(a.registry, api.Options{APIKey: cfg.Server.APIKey}, logger.Named("api"))
	logger.Info("application services initialized",
		zap.Strings("protocols", a.registry.Protocols()),
		zap.String("store", cfg.Store.Kind),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (registry.SourceStore, error) {
	switch a.cfg.Store.Kind {
	case config.StoreMemory, "":
		return memory.NewSourceStore(), nil
	case config.StoreFile:
		store, err := local.New(local.Config{BaseDir: a.cfg.Store.File.BaseDir, FileName: a.cfg.Store.File.FileName})
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		a.logger.Info("using file source store", zap.String("path", store.Path()))
		return store, nil
	case config.StorePostgres:
		pg := a.cfg.Store.Postgres
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if pg.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, err
			}
		}
		a.logger.Info("using postgres source store", zap.String("table", pg.Table))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store kind: %s", a.cfg.Store.Kind)
	}
}

func (a *App) registerHandlers(packages extension.Resolver) error {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateLimitBurst,
	})

	webHandler := web.New(web.Config{
		Timeout:      cfg.RequestTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		UserAgent:    cfg.HTTP.UserAgent,
		Environment:  a.classifier,
		Limiter:      limiter,
		Logger:       a.logger.Named("web"),
	})
	githubHandler := github.New(github.Config{
		APIBase:     cfg.GitHub.APIBase,
		Token:       cfg.GitHub.Token,
		Timeout:     cfg.RequestTimeout(),
		UserAgent:   cfg.HTTP.UserAgent,
		Environment: a.classifier,
		Limiter:     limiter,
		Logger:      a.logger.Named("github"),
	})

	var errs []error
	for _, h := range []protocol.Handler{
		webHandler,
		githubHandler,
		extension.New(packages, webHandler, a.logger.Named("extension")),
		file.New(cfg.Filesystem.Root, a.logger.Named("file")),
	} {
		if err := a.registry.RegisterHandler(h); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	return nil
}

func newPackageResolver(cfg config.Config) extension.Resolver {
	if cfg.Extensions.Dir == "" {
		return extension.StaticResolver{}
	}
	return extension.NewManifestResolver(cfg.Extensions.Dir, cfg.ExtensionsHostURL())
}

// signalsFor gathers classifier inputs from configuration and installed
// extension versions.
func signalsFor(ctx context.Context, cfg config.Config, packages extension.Resolver, logger *zap.Logger) environment.Signals {
	signals := environment.Signals{
		HostURL:    cfg.Environment.HostURL,
		DebugFlags: cfg.Environment.DebugFlags,
	}
	lister, ok := packages.(extension.Lister)
	if !ok {
		return signals
	}
	pkgs, err := lister.Packages(ctx)
	if err != nil {
		logger.Warn("list extensions failed", zap.Error(err))
		return signals
	}
	signals.ExtensionVersions = make(map[string]string, len(pkgs))
	for _, pkg := range pkgs {
		signals.ExtensionVersions[pkg.Name] = pkg.Version
	}
	return signals
}

// Registry returns the calendar registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Classifier returns the shared environment classifier.
func (a *App) Classifier() *environment.Classifier { return a.classifier }

// Events returns the lifecycle event dispatcher.
func (a *App) Events() *events.Dispatcher { return a.events }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Start loads persisted sources and starts the update loop when enabled.
func (a *App) Start(ctx context.Context) error {
	if err := a.registry.Start(ctx); err != nil {
		return fmt.Errorf("start registry: %w", err)
	}
	cls := a.classifier.Classify()
	a.logger.Info("environment classified",
		zap.Bool("localhost", cls.IsLocalhost),
		zap.Bool("development", cls.IsDevelopment),
		zap.String("confidence", string(cls.Confidence)),
		zap.Strings("reasons", cls.Reasons),
	)
	return nil
}

// Close stops background work and releases the store.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.registry != nil {
		a.registry.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
