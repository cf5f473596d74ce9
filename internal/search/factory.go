package search

import (
	"fmt"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

// Backend represents the search index backend type.
type Backend string

const (
	// BackendSQLite uses SQLite FTS5 (default).
	// Enables concurrent multi-process access via WAL mode.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses one Bleve v2 index per repository.
	// BoltDB holds an exclusive lock, so each index is single process only.
	BackendBleve Backend = "bleve"
)

// NewServiceWithBackend creates a Service using the configured backend.
//
// backend options:
//   - "sqlite" (default): one FTS5 database holding every repository
//   - "bleve": one index directory per repository
//
// If cfg.Path is empty, indexes are kept in memory.
func NewServiceWithBackend(cfg Config) (Service, error) {
	switch cfg.Backend {
	case string(BackendSQLite), "":
		svc, err := NewSQLiteService(cfg.Path, cfg.workers())
		if err != nil {
			return nil, err
		}
		return svc, nil

	case string(BackendBleve):
		svc, err := NewBleveService(cfg.Path, cfg.workers(), cfg.MaxOpenIndexes)
		if err != nil {
			return nil, err
		}
		return svc, nil

	default:
		return nil, rserrors.New(rserrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown search backend: %s (valid options: sqlite, bleve)", cfg.Backend), nil)
	}
}
