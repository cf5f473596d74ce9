// Package facet keeps a repository's search index in step with component storage.
//
// A Facet follows the repository lifecycle (init, start, stop, delete). While started it
// pushes single components, batches or the whole bucket from a read-only storage unit of
// work to the search service. Storage is authoritative; the index can always be rebuilt.
package facet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/metadata"
	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// SearchService is the part of the search backend a facet writes to.
type SearchService interface {
	CreateIndex(ctx context.Context, repository string) error
	DeleteIndex(ctx context.Context, repository string) error
	RebuildIndex(ctx context.Context, repository string) error
	BulkPut(ctx context.Context, repository string, components []*storage.Component, id search.IDFunc, doc search.DocFunc) error
	Delete(ctx context.Context, repository, id string) error
}

// Facet synchronizes one repository's index.
//
// Lifecycle hooks take the write lock; Put, BulkPut, Delete and RebuildIndex share the
// read lock, so they run concurrently with each other but never across a transition.
type Facet struct {
	mu         sync.RWMutex
	state      State
	repository storage.Repository
	meta       metadata.RepositoryMetadata

	storage  storage.TxSupplier
	search   SearchService
	mapper   *metadata.Mapper
	bulkSize int
}

// Option configures a Facet.
type Option func(*Facet)

// WithBulkSize makes RebuildIndex push the bucket in batches of n components.
// Zero pushes the whole bucket in one call.
func WithBulkSize(n int) Option {
	return func(f *Facet) {
		if n >= 0 {
			f.bulkSize = n
		}
	}
}

// New creates a facet in StateNew.
func New(store storage.TxSupplier, searchService SearchService, mapper *metadata.Mapper, opts ...Option) *Facet {
	f := &Facet{
		state:   StateNew,
		storage: store,
		search:  searchService,
		mapper:  mapper,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current lifecycle state.
func (f *Facet) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Repository returns the repository captured at init.
func (f *Facet) Repository() storage.Repository {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.repository
}

// OnInit captures the repository and its metadata snapshot.
// Allowed from NEW, INITIALIZED and STOPPED.
func (f *Facet) OnInit(repo storage.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.state.in(StateNew, StateInitialized, StateStopped) {
		return rserrors.StateError(repo.Name, "initialize", f.state.String())
	}
	if repo.Name == "" {
		return rserrors.ValidationError("repository name is required", nil)
	}

	f.repository = repo
	f.meta = metadata.NewRepositoryMetadata(repo.Name)
	f.state = StateInitialized

	slog.Debug("facet_initialized",
		slog.String("repository", repo.Name),
		slog.String("format", repo.Format))
	return nil
}

// OnStart ensures the index exists. Starting a started facet does nothing.
func (f *Facet) OnStart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateStarted {
		return nil
	}
	if !f.state.in(StateInitialized, StateStopped) {
		return rserrors.StateError(f.repository.Name, "start", f.state.String())
	}

	if err := f.search.CreateIndex(ctx, f.repository.Name); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to create index for %s", f.repository.Name), err)
	}

	f.state = StateStarted
	slog.Info("facet_started", slog.String("repository", f.repository.Name))
	return nil
}

// OnStop stops accepting synchronization calls. The index is kept.
func (f *Facet) OnStop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateStopped {
		return nil
	}
	if f.state != StateStarted {
		return rserrors.StateError(f.repository.Name, "stop", f.state.String())
	}

	f.state = StateStopped
	slog.Info("facet_stopped", slog.String("repository", f.repository.Name))
	return nil
}

// OnDelete removes the repository's index. A started facet is stopped first.
// No storage unit of work is opened. Deleting twice does nothing.
func (f *Facet) OnDelete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateDeleted {
		return nil
	}
	if !f.state.in(StateInitialized, StateStarted, StateStopped) {
		return rserrors.StateError(f.repository.Name, "delete", f.state.String())
	}

	f.state = StateStopped

	if err := f.search.DeleteIndex(ctx, f.repository.Name); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to delete index for %s", f.repository.Name), err)
	}

	f.state = StateDeleted
	slog.Info("facet_deleted", slog.String("repository", f.repository.Name))
	return nil
}

// guard rejects synchronization calls outside StateStarted. Caller holds the read lock.
func (f *Facet) guard(operation string) error {
	if f.state != StateStarted {
		return rserrors.StateError(f.repository.Name, operation, f.state.String())
	}
	return nil
}

// Put indexes one component. A component missing from storage is skipped without error.
func (f *Facet) Put(ctx context.Context, id storage.EntityID) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.guard("put"); err != nil {
		return err
	}
	if id == "" {
		return rserrors.ValidationError("component id is required", nil)
	}

	tx, err := f.storage.BeginTx(ctx)
	if err != nil {
		return rserrors.StorageError("failed to open storage transaction", err)
	}
	defer tx.End()

	bucket, err := tx.FindBucket(ctx, f.repository.Name)
	if err != nil {
		return rserrors.StorageError(fmt.Sprintf("failed to find bucket of %s", f.repository.Name), err)
	}

	component, err := tx.FindComponentInBucket(ctx, id, bucket)
	if err != nil {
		return rserrors.StorageError(fmt.Sprintf("failed to read component %s", id), err)
	}
	if component == nil {
		slog.Debug("component_not_found",
			slog.String("repository", f.repository.Name),
			slog.String("component_id", id.String()))
		return nil
	}

	assets, err := tx.BrowseAssets(ctx, component)
	if err != nil {
		return rserrors.StorageError(fmt.Sprintf("failed to read assets of %s", id), err)
	}

	// A single put either indexes its document or fails; only batches skip failed documents.
	body, err := f.mapper.Document(component, assets, f.meta)
	if err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to build document for %s", id), err)
	}
	doc := func(*storage.Component) (string, error) { return body, nil }

	if err := f.search.BulkPut(ctx, f.repository.Name, []*storage.Component{component}, f.mapper.DocumentID, doc); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to index component %s of %s", id, f.repository.Name), err)
	}
	return nil
}

// BulkPut indexes the components that still exist in storage with one search call.
// Ids that no longer resolve are skipped.
func (f *Facet) BulkPut(ctx context.Context, ids []storage.EntityID) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.guard("bulk put"); err != nil {
		return err
	}
	if ids == nil {
		return rserrors.ValidationError("component ids are required", nil)
	}

	tx, err := f.storage.BeginTx(ctx)
	if err != nil {
		return rserrors.StorageError("failed to open storage transaction", err)
	}
	defer tx.End()

	bucket, err := tx.FindBucket(ctx, f.repository.Name)
	if err != nil {
		return rserrors.StorageError(fmt.Sprintf("failed to find bucket of %s", f.repository.Name), err)
	}

	components := make([]*storage.Component, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		component, err := tx.FindComponentInBucket(ctx, id, bucket)
		if err != nil {
			return rserrors.StorageError(fmt.Sprintf("failed to read component %s", id), err)
		}
		if component != nil {
			components = append(components, component)
		}
	}

	if skipped := len(ids) - len(components); skipped > 0 {
		slog.Debug("bulk_put_skipped",
			slog.String("repository", f.repository.Name),
			slog.Int("requested", len(ids)),
			slog.Int("skipped", skipped))
	}

	return f.push(ctx, tx, components)
}

// Delete removes a component's document. No storage unit of work is opened.
func (f *Facet) Delete(ctx context.Context, id storage.EntityID) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.guard("delete"); err != nil {
		return err
	}
	if id == "" {
		return rserrors.ValidationError("component id is required", nil)
	}

	if err := f.search.Delete(ctx, f.repository.Name, id.String()); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to delete document %s", id), err)
	}
	return nil
}

// RebuildIndex resets the index and pushes every component of the bucket.
func (f *Facet) RebuildIndex(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.guard("rebuild"); err != nil {
		return err
	}

	start := time.Now()
	name := f.repository.Name

	if err := f.search.RebuildIndex(ctx, name); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to reset index for %s", name), err)
	}

	tx, err := f.storage.BeginTx(ctx)
	if err != nil {
		return rserrors.StorageError("failed to open storage transaction", err)
	}
	defer tx.End()

	bucket, err := tx.FindBucket(ctx, name)
	if err != nil {
		return rserrors.StorageError(fmt.Sprintf("failed to find bucket of %s", name), err)
	}

	var batch []*storage.Component
	total, batches := 0, 0
	for component, err := range tx.BrowseComponents(ctx, bucket) {
		if err != nil {
			return rserrors.StorageError(fmt.Sprintf("failed to browse components of %s", name), err)
		}
		batch = append(batch, component)

		if f.bulkSize > 0 && len(batch) >= f.bulkSize {
			if err := f.push(ctx, tx, batch); err != nil {
				return err
			}
			total += len(batch)
			batches++
			batch = nil
		}
	}

	// An empty bucket still gets one (empty) push when nothing was flushed.
	if len(batch) > 0 || batches == 0 {
		if batch == nil {
			batch = []*storage.Component{}
		}
		if err := f.push(ctx, tx, batch); err != nil {
			return err
		}
		total += len(batch)
		batches++
	}

	slog.Info("index_rebuilt",
		slog.String("repository", name),
		slog.Int("components", total),
		slog.Int("batches", batches),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// push loads assets inside tx, then hands one batch to the search service.
// Document closures only read the preloaded assets, so the service may run them in parallel.
func (f *Facet) push(ctx context.Context, tx storage.Tx, components []*storage.Component) error {
	assets := make(map[storage.EntityID][]*storage.Asset, len(components))
	for _, c := range components {
		list, err := tx.BrowseAssets(ctx, c)
		if err != nil {
			return rserrors.StorageError(fmt.Sprintf("failed to read assets of %s", c.ID), err)
		}
		assets[c.ID] = list
	}

	meta := f.meta
	doc := func(c *storage.Component) (string, error) {
		return f.mapper.Document(c, assets[c.ID], meta)
	}

	if err := f.search.BulkPut(ctx, f.repository.Name, components, f.mapper.DocumentID, doc); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to index %d components of %s", len(components), f.repository.Name), err)
	}
	return nil
}
