package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/sha1n/mcp-docsproxy-server/internal/cache"
	"github.com/sha1n/mcp-docsproxy-server/internal/config"
	"github.com/sha1n/mcp-docsproxy-server/internal/docs"
	"github.com/sha1n/mcp-docsproxy-server/internal/domain"
	"github.com/sha1n/mcp-docsproxy-server/internal/fetcher"
	"github.com/sha1n/mcp-docsproxy-server/internal/registry"
	"github.com/sha1n/mcp-docsproxy-server/internal/resolver"
	"github.com/sha1n/mcp-docsproxy-server/internal/scheduler"
	"github.com/sha1n/mcp-docsproxy-server/internal/state"
)

// Runtime owns every long-lived component of a running server.
type Runtime struct {
	Settings  *config.Settings
	DB        *cache.DB
	Cache     *cache.Cache
	State     *state.State
	Fetcher   *fetcher.Fetcher
	Docs      *docs.Service
	Updater   *registry.Updater
	Scheduler *scheduler.Scheduler

	logger         *slog.Logger
	registryClient *http.Client
	bootstrapped   bool
	cancel         context.CancelFunc
	group          *errgroup.Group
}

// NewRuntime opens the cache, loads the registry (local pair, else the
// bundled snapshot) and wires the components. It starts nothing.
func NewRuntime(ctx context.Context, settings *config.Settings, logger *slog.Logger, version string) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db := cache.NewDB(settings.Cache.DBPath)
	if err := db.Open(); err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	c := cache.New(db, logger)

	paths := registry.NewPaths(settings.RegistryDir())
	entries, registryVersion, err := loadRegistry(paths, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st := state.New(entries, registryVersion, settings.Fetcher.ExtraAllowedDomains)

	// Restore domains discovered in earlier sessions so cached content stays reachable.
	if depth := settings.Fetcher.AllowlistDepth; depth > 0 {
		domains := c.LoadDiscoveredDomains(ctx, depth >= 1, depth >= 2)
		if len(domains) > 0 && st.ExpandAllowlist(domains) {
			logger.Info("Allowlist restored from cache", "domain_count", len(domains))
		}
	}

	f := fetcher.New(fetcher.Config{
		MaxRedirects: settings.Fetcher.MaxRedirects,
		Timeout:      settings.Fetcher.RequestTimeout,
		UserAgent:    userAgent(version),
		RateLimit:    settings.Fetcher.RateLimit,
		Logger:       logger,
	})

	docsService := docs.NewService(st, f, c, docs.Config{
		TTL:            settings.Cache.TTL(),
		AllowlistDepth: settings.Fetcher.AllowlistDepth,
		RefreshTimeout: settings.Fetcher.RequestTimeout,
		Resolver: resolver.Options{
			FuzzyScoreCutoff: settings.Resolver.FuzzyScoreCutoff,
			FuzzyMaxResults:  settings.Resolver.FuzzyMaxResults,
		},
	}, logger)

	registryClient := &http.Client{}
	updater := registry.NewUpdater(registry.UpdaterConfig{
		Client:      registryClient,
		MetadataURL: settings.Registry.MetadataURL,
		Timeout:     settings.Registry.Timeout,
		Paths:       paths,
		Store:       st,
		Logger:      logger,
	})

	sched := scheduler.New(scheduler.Config{
		Periodic:             settings.Transport == config.TransportHTTP,
		PollInterval:         settings.Registry.PollInterval,
		InitialBackoff:       settings.Registry.InitialBackoff,
		MaxBackoff:           settings.Registry.MaxBackoff,
		MaxTransientFailures: settings.Registry.MaxTransientFailures,
		CleanupInterval:      settings.Cache.CleanupInterval(),
		StatePath:            paths.State,
		Logger:               logger,
	}, updater, c)

	return &Runtime{
		Settings:       settings,
		DB:             db,
		Cache:          c,
		State:          st,
		Fetcher:        f,
		Docs:           docsService,
		Updater:        updater,
		Scheduler:      sched,
		logger:         logger,
		registryClient: registryClient,
	}, nil
}

// loadRegistry returns the verified local pair, or the bundled snapshot
// when the pair is missing or fails validation.
func loadRegistry(paths registry.Paths, logger *slog.Logger) ([]domain.RegistryEntry, string, error) {
	entries, desc, err := registry.LoadPair(paths)
	if err == nil {
		logger.Info("Registry loaded from disk", "version", desc.Version, "entries", len(entries))
		return entries, desc.Version, nil
	}
	if !errors.Is(err, registry.ErrNoLocalRegistry) {
		logger.Warn("Local registry invalid, using bundled snapshot", "error", err)
	}

	bundled, err := registry.Bundled()
	if err != nil {
		return nil, "", fmt.Errorf("bundled registry is invalid: %w", err)
	}
	return bundled, registry.BundledVersion, nil
}

// Bootstrap performs a bounded blocking registry fetch when the server is
// running on the bundled snapshot. It reports whether a fetch was attempted.
func (r *Runtime) Bootstrap(ctx context.Context) bool {
	if r.State.RegistryVersion() != registry.BundledVersion {
		return false
	}
	r.bootstrapped = true

	timeout := r.Settings.Registry.BootstrapTimeout
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := r.Updater.Check(bctx)
	switch {
	case outcome == registry.OutcomeSuccess && r.State.RegistryVersion() != registry.BundledVersion:
		r.logger.Info("First run registry fetch succeeded", "version", r.State.RegistryVersion())
		return true
	case errors.Is(bctx.Err(), context.DeadlineExceeded):
		r.logger.Warn("First run registry fetch timed out", "timeout", timeout)
	default:
		r.logger.Warn("First run registry fetch failed", "outcome", outcome)
	}

	r.logger.Warn("Using bundled registry snapshot; library data may be outdated. " +
		"Check your internet connection or run the setup command later.")
	return true
}

// Start launches the scheduler duties in the background.
func (r *Runtime) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	group, gctx := errgroup.WithContext(ctx)
	skipInitial := r.bootstrapped
	group.Go(func() error {
		return r.Scheduler.RunRegistryUpdates(gctx, skipInitial)
	})
	group.Go(func() error {
		return r.Scheduler.RunCacheCleanup(gctx)
	})
	r.group = group

	r.logger.Info("Server components started",
		"registry_version", r.State.RegistryVersion(),
		"registry_entries", r.State.Snapshot().Index.Len(),
		"allowed_domains", r.State.Snapshot().Allowlist.Len())
}

// Close stops background work and releases resources: tasks are cancelled
// and awaited, idle connections closed, then the cache database closed.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.Docs.Shutdown()

	var errs []error
	if r.group != nil {
		if err := r.group.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}

	r.Fetcher.CloseIdleConnections()
	r.registryClient.CloseIdleConnections()

	if err := r.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}

// userAgent identifies outbound documentation requests.
func userAgent(version string) string {
	return "docsproxy-mcp/" + version
}
