// Package search provides the external search index that mirrors repository storage.
// Each repository owns one index; documents are opaque serialized metadata keyed by component id.
package search

import (
	"context"
	"runtime"

	"github.com/Aman-CERP/reposync/internal/storage"
)

// IDFunc derives the document id of a component.
type IDFunc func(*storage.Component) string

// DocFunc derives the serialized document of a component.
type DocFunc func(*storage.Component) (string, error)

// Document is one indexed unit.
type Document struct {
	ID   string
	Body string
}

// Hit is a single search result.
type Hit struct {
	ID    string
	Score float64
}

// Service is a search backend holding one index per repository.
type Service interface {
	// CreateIndex ensures the repository's index exists. Idempotent.
	CreateIndex(ctx context.Context, repository string) error

	// DeleteIndex removes the repository's index and all its documents. Idempotent.
	DeleteIndex(ctx context.Context, repository string) error

	// RebuildIndex resets the repository's index to an empty, existing index.
	RebuildIndex(ctx context.Context, repository string) error

	// Put indexes or replaces one document.
	Put(ctx context.Context, repository, id, body string) error

	// BulkPut builds one document per component and indexes them in a single batch.
	// Components whose document cannot be built are skipped and logged.
	BulkPut(ctx context.Context, repository string, components []*storage.Component, id IDFunc, doc DocFunc) error

	// Delete removes a document. Deleting an unknown id is not an error.
	Delete(ctx context.Context, repository, id string) error

	// Search runs a plain match query over document text.
	Search(ctx context.Context, repository, query string, limit int) ([]*Hit, error)

	// Get returns the stored document body.
	Get(ctx context.Context, repository, id string) (string, bool, error)

	// AllIDs returns every document id in the repository's index, sorted.
	AllIDs(ctx context.Context, repository string) ([]string, error)

	// Count returns the number of documents in the repository's index.
	Count(ctx context.Context, repository string) (int, error)

	Close() error
}

// Config configures a search backend.
type Config struct {
	// Backend selects the implementation: "sqlite" (default) or "bleve".
	Backend string

	// Path is the directory holding index files. Empty means in-memory.
	Path string

	// Workers bounds parallel document generation during bulk puts.
	Workers int

	// MaxOpenIndexes bounds how many on-disk Bleve indexes stay open at once.
	MaxOpenIndexes int
}

// DefaultConfig returns an in-memory SQLite configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        string(BackendSQLite),
		Workers:        runtime.NumCPU(),
		MaxOpenIndexes: 64,
	}
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
