package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattjoyce/extinit/internal/config"
	"github.com/mattjoyce/extinit/internal/plugin"
	"github.com/mattjoyce/extinit/internal/storage"
	"github.com/mattjoyce/extinit/pkg/entrypoint"
	"github.com/mattjoyce/extinit/pkg/extinit"
	"github.com/mattjoyce/extinit/pkg/loader"
)

// runtime bundles what every command needs to discover and load extensions.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *plugin.Registry
	catalog  *storage.Catalog
	provider entrypoint.Multi
	loader   *loader.Loader
}

// buildRuntime discovers distributions and opens the catalog when enabled.
// In-process registrations on extinit.Registry always come first.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	registry, err := discoverDistributions(cfg.PluginRoots, logger)
	if err != nil {
		return nil, err
	}
	rt.registry = registry

	rt.provider = entrypoint.Multi{extinit.Registry}
	if cfg.Catalog.Enabled {
		catalog, err := storage.OpenCatalog(ctx, cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("open catalog %s: %w", cfg.Catalog.Path, err)
		}
		rt.catalog = catalog
		rt.provider = append(rt.provider, catalog)
	} else {
		rt.provider = append(rt.provider, registry)
	}

	rt.loader = loader.New(
		loader.DefaultSymbols,
		loader.SharedObject{},
		loader.NewExecutable(loader.ExecOptions{
			Timeout: cfg.Extensions.InitTimeout,
			Logger:  logger.With("component", "loader"),
		}),
	)
	return rt, nil
}

// initializer installs an Initializer over the runtime's provider and loader
// as the process-wide one, so
// an extension calling extinit.InitAll during the run sees it in progress.
func (rt *runtime) initializer(observers ...extinit.Observer) (*extinit.Initializer, error) {
	opts := []extinit.Option{
		extinit.WithProvider(rt.provider),
		extinit.WithLoader(rt.loader),
		extinit.WithGroup(rt.cfg.Extensions.Group),
		extinit.WithName(rt.cfg.Extensions.Name),
		extinit.WithLogger(rt.logger.With("component", "extinit")),
	}
	if rt.cfg.Extensions.Sorted {
		opts = append(opts, extinit.WithSortedOrder())
	}
	for _, o := range observers {
		opts = append(opts, extinit.WithObserver(o))
	}
	in, ok := extinit.Configure(opts...)
	if !ok {
		return nil, fmt.Errorf("extensions already initialized in this process (state %s)", in.State())
	}
	return in, nil
}

func (rt *runtime) Close() {
	if rt.catalog != nil {
		_ = rt.catalog.Close()
	}
}

// discoverDistributions scans the plugin roots that exist. A missing root is
// logged and skipped so a fresh install still runs in-process extensions.
func discoverDistributions(roots []string, logger *slog.Logger) (*plugin.Registry, error) {
	var existing []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			logger.Warn("plugin root unavailable, skipping", "root", root)
			continue
		}
		existing = append(existing, root)
	}
	if len(existing) == 0 {
		return plugin.NewRegistry(), nil
	}

	registry, err := plugin.DiscoverMany(existing, func(level, msg string, args ...any) {
		switch level {
		case "debug":
			logger.Debug(msg, args...)
		case "info":
			logger.Info(msg, args...)
		case "warn":
			logger.Warn(msg, args...)
		case "error":
			logger.Error(msg, args...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("plugin discovery failed: %w", err)
	}
	logger.Debug("plugin discovery complete", "count", len(registry.All()))
	return registry, nil
}

// pidLockPath keeps the server lock next to the catalog database.
func pidLockPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Catalog.Path), "extinit.pid")
}
