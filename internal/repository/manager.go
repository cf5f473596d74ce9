// Package repository owns the index synchronization facets of all configured
// repositories and drives their lifecycle.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/reposync/internal/config"
	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/facet"
	"github.com/Aman-CERP/reposync/internal/index"
	"github.com/Aman-CERP/reposync/internal/metadata"
	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// Info describes a managed repository.
type Info struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	State  string `json:"state"`
}

// ReconcileResult lists what Reconcile changed.
type ReconcileResult struct {
	Started   []string `json:"started"`
	Stopped   []string `json:"stopped"`
	Restarted []string `json:"restarted"`
}

// Changed reports whether anything was started, stopped or restarted.
func (r *ReconcileResult) Changed() bool {
	return len(r.Started)+len(r.Stopped)+len(r.Restarted) > 0
}

// Manager owns one facet per repository over shared storage and search backends.
type Manager struct {
	store    storage.Store
	search   search.Service
	mapper   *metadata.Mapper
	bulkSize int
	owned    bool // close store and search on Close

	mu    sync.RWMutex
	repos map[string]*facet.Facet
}

// Option configures a Manager.
type Option func(*Manager)

// WithBulkSize sets the rebuild flush size of every facet the manager creates.
func WithBulkSize(n int) Option {
	return func(m *Manager) {
		m.bulkSize = n
	}
}

// NewManager creates a manager over existing backends. The caller keeps ownership of them.
func NewManager(store storage.Store, searchService search.Service, mapper *metadata.Mapper, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		search: searchService,
		mapper: mapper,
		repos:  make(map[string]*facet.Facet),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the component storage.
func (m *Manager) Store() storage.Store {
	return m.store
}

// Search returns the search backend.
func (m *Manager) Search() search.Service {
	return m.search
}

// Add initializes and starts a facet for the repository, creating its storage bucket.
func (m *Manager) Add(ctx context.Context, rc config.RepositoryConfig) (*facet.Facet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(ctx, rc)
}

func (m *Manager) add(ctx context.Context, rc config.RepositoryConfig) (*facet.Facet, error) {
	if _, ok := m.repos[rc.Name]; ok {
		return nil, rserrors.ValidationError(fmt.Sprintf("repository %q is already managed", rc.Name), nil)
	}

	if _, err := m.store.EnsureBucket(ctx, rc.Name); err != nil {
		return nil, rserrors.New(rserrors.ErrCodeStorageWrite,
			fmt.Sprintf("failed to create bucket for %s", rc.Name), err)
	}

	f := facet.New(m.store, m.search, m.mapper, facet.WithBulkSize(m.bulkSize))
	if err := f.OnInit(storage.Repository{Name: rc.Name, Format: rc.Format}); err != nil {
		return nil, err
	}
	if err := f.OnStart(ctx); err != nil {
		return nil, err
	}

	m.repos[rc.Name] = f
	return f, nil
}

// Start adds every repository, continuing past failures.
func (m *Manager) Start(ctx context.Context, repos []config.RepositoryConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, rc := range repos {
		if _, err := m.add(ctx, rc); err != nil {
			slog.Error("repository_start_failed",
				slog.String("repository", rc.Name),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the facet of a managed repository.
func (m *Manager) Get(name string) (*facet.Facet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.repos[name]
	if !ok {
		return nil, notFound(name)
	}
	return f, nil
}

// Lookup resolves a repository for the event coordinator.
func (m *Manager) Lookup(name string) (index.Target, bool) {
	f, err := m.Get(name)
	if err != nil {
		return nil, false
	}
	return f, true
}

// Repositories lists the managed repositories sorted by name.
func (m *Manager) Repositories() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.repos))
	for name, f := range m.repos {
		infos = append(infos, Info{
			Name:   name,
			Format: f.Repository().Format,
			State:  f.State().String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Select returns the sorted names of managed repositories matching a doublestar
// pattern such as "libs-*" or "{maven,npm}-*". An empty pattern selects every repository.
func (m *Manager) Select(pattern string) ([]string, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, rserrors.ValidationError(fmt.Sprintf("invalid repository pattern %q", pattern), nil)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.repos {
		if pattern == "" {
			names = append(names, name)
			continue
		}
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return nil, rserrors.ValidationError(fmt.Sprintf("invalid repository pattern %q", pattern), err)
		}
		if ok {
			names = append(names, name)
		}
	}

	if len(names) == 0 && pattern != "" {
		return nil, notFound(pattern)
	}
	sort.Strings(names)
	return names, nil
}

// Remove stops a repository's facet and forgets it. Its index is kept.
func (m *Manager) Remove(ctx context.Context, name string) error {
	f, err := m.detach(name)
	if err != nil {
		return err
	}
	if err := f.OnStop(ctx); err != nil {
		m.reattach(name, f)
		return err
	}
	return nil
}

// Drop deletes a repository's index and forgets it. Stored components are untouched.
func (m *Manager) Drop(ctx context.Context, name string) error {
	f, err := m.detach(name)
	if err != nil {
		return err
	}
	if err := f.OnDelete(ctx); err != nil {
		m.reattach(name, f)
		return err
	}
	slog.Info("repository_dropped", slog.String("repository", name))
	return nil
}

// detach removes a facet from the managed set. Lifecycle hooks run after the manager
// lock is released, since they wait for the facet's in-flight operations.
func (m *Manager) detach(name string) (*facet.Facet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.repos[name]
	if !ok {
		return nil, notFound(name)
	}
	delete(m.repos, name)
	return f, nil
}

// reattach puts back a facet whose hook failed, unless the name was reused meanwhile.
func (m *Manager) reattach(name string, f *facet.Facet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.repos[name]; !taken {
		m.repos[name] = f
	}
}

// Reconcile brings the managed set in line with repos: new repositories are started,
// missing ones stopped, and repositories whose format changed are re-initialized.
// It applies every change it can and joins the errors of those it could not.
func (m *Manager) Reconcile(ctx context.Context, repos []config.RepositoryConfig) (*ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &ReconcileResult{}
	var errs []error

	wanted := make(map[string]config.RepositoryConfig, len(repos))
	for _, rc := range repos {
		wanted[rc.Name] = rc
	}

	for _, name := range sortedKeys(m.repos) {
		if _, ok := wanted[name]; ok {
			continue
		}
		if err := m.repos[name].OnStop(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(m.repos, name)
		result.Stopped = append(result.Stopped, name)
	}

	for _, rc := range repos {
		f, ok := m.repos[rc.Name]
		if !ok {
			if _, err := m.add(ctx, rc); err != nil {
				errs = append(errs, err)
				continue
			}
			result.Started = append(result.Started, rc.Name)
			continue
		}

		if f.Repository().Format == rc.Format {
			continue
		}
		if err := restart(ctx, f, rc); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Restarted = append(result.Restarted, rc.Name)
	}

	if result.Changed() {
		slog.Info("repositories_reconciled",
			slog.Int("started", len(result.Started)),
			slog.Int("stopped", len(result.Stopped)),
			slog.Int("restarted", len(result.Restarted)))
	}
	return result, errors.Join(errs...)
}

func restart(ctx context.Context, f *facet.Facet, rc config.RepositoryConfig) error {
	if err := f.OnStop(ctx); err != nil {
		return err
	}
	if err := f.OnInit(storage.Repository{Name: rc.Name, Format: rc.Format}); err != nil {
		return err
	}
	return f.OnStart(ctx)
}

// Close stops every facet and, when the manager opened them, closes the backends.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(m.repos) {
		if err := m.repos[name].OnStop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.repos = make(map[string]*facet.Facet)

	if m.owned {
		if err := m.search.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close search: %w", err))
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func notFound(name string) error {
	return rserrors.New(rserrors.ErrCodeRepositoryNotFound,
		fmt.Sprintf("repository not found: %s", name), nil).
		WithSuggestion("Declare the repository under 'repositories' in .reposync.yaml")
}

func sortedKeys(m map[string]*facet.Facet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
