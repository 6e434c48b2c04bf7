package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/heremaps/xyz-hub-sub023/core/config"
	"github.com/heremaps/xyz-hub-sub023/core/conflict"
	"github.com/heremaps/xyz-hub-sub023/core/database"
	hubErrors "github.com/heremaps/xyz-hub-sub023/core/errors"
	"github.com/heremaps/xyz-hub-sub023/core/history"
	"github.com/heremaps/xyz-hub-sub023/core/spaces"
	"github.com/heremaps/xyz-hub-sub023/core/storage"
)

// hubRuntime is everything one command invocation needs, built from the
// loaded configuration.
type hubRuntime struct {
	config  *config.Manager
	logger  *slog.Logger
	adapter history.Adapter
	store   *history.Store
	spaces  *spaces.Registry
	engine  *conflict.Engine
}

func loadConfig() (*config.Manager, error) {
	path := configPath
	if path == "" {
		path = storage.ResolveDirs().ConfigFile()
	}
	m := config.NewManager(path, nil)
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func openRuntime(ctx context.Context) (*hubRuntime, error) {
	m, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := m.Get()
	logger := cfg.Log.NewLogger(os.Stderr)

	if err := hubErrors.ConfigureDefault(&cfg.Errors); err != nil {
		return nil, fmt.Errorf("errors: %w", err)
	}
	registry, err := spaces.FromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("spaces: %w", err)
	}

	// Reloads only happen while someone runs m.Watch, as write --follow does.
	registry.Watch(m)
	m.OnChange(func(next *config.Config) {
		if err := hubErrors.ConfigureDefault(&next.Errors); err != nil {
			logger.Warn("error patterns rejected, keeping previous ones", "error", err)
		}
	})

	adapter, err := openAdapter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store := history.NewStore(adapter, history.StoreConfig{
		Logger:        logger,
		DefaultAuthor: cfg.Engine.DefaultAuthor,
	})
	engine := conflict.NewEngine(registry, store, conflict.Config{
		Logger:       logger,
		Parallelism:  cfg.Engine.Parallelism,
		WriteTimeout: cfg.Engine.WriteTimeout,
	})

	return &hubRuntime{
		config:  m,
		logger:  logger,
		adapter: adapter,
		store:   store,
		spaces:  registry,
		engine:  engine,
	}, nil
}

func (rt *hubRuntime) Close() error {
	rt.config.Close()
	return rt.adapter.Close()
}

func openAdapter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (history.Adapter, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return history.NewMemoryAdapter(), nil
	case config.BackendSQLite:
		return history.OpenSQLite(ctx, storagePath(cfg), poolConfig(cfg))
	case config.BackendBadger:
		bc := history.DefaultBadgerConfig(storagePath(cfg))
		bc.SyncWrites = cfg.Storage.SyncWrites
		bc.Logger = logger
		return history.OpenBadger(bc)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Storage.Backend)
	}
}

func storagePath(cfg *config.Config) string {
	return storage.ResolveDirs().ResolvePath(cfg.Storage.Path)
}

func poolConfig(cfg *config.Config) database.PoolConfig {
	pc := database.DefaultPoolConfig()
	if cfg.Storage.BusyTimeout > 0 {
		pc.BusyTimeout = cfg.Storage.BusyTimeout
	}
	pc.SyncWrites = cfg.Storage.SyncWrites
	return pc
}

var errNotSQLite = errors.New("migrations only apply to the sqlite backend")
