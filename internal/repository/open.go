package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/reposync/internal/config"
	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/metadata"
	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
	"github.com/Aman-CERP/reposync/internal/storage/postgres"
	"github.com/Aman-CERP/reposync/internal/storage/sqlite"
)

// OpenStore opens the storage backend selected by the configuration.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, rserrors.ConfigError(fmt.Sprintf("unknown storage driver: %s", cfg.Driver), nil)
	}
}

// Open builds storage and search from the configuration and starts every declared
// repository. The returned manager owns both backends and closes them on Close.
func Open(ctx context.Context, cfg *config.Config) (*Manager, error) {
	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	svc, err := search.NewServiceWithBackend(search.Config{
		Backend:        cfg.Search.Backend,
		Path:           cfg.Search.Path,
		Workers:        cfg.Search.Workers,
		MaxOpenIndexes: cfg.Search.MaxOpenIndexes,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}

	m := NewManager(store, svc, metadata.NewMapper(metadata.DefaultRegistry()),
		WithBulkSize(cfg.Search.BulkSize))
	m.owned = true

	if err := m.Start(ctx, cfg.Repositories); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	slog.Debug("repositories_opened",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("search", cfg.Search.Backend),
		slog.Int("repositories", len(cfg.Repositories)))
	return m, nil
}
