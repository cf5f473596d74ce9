package facet

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// fakeStore is an in-memory TxSupplier that counts units of work.
type fakeStore struct {
	mu         sync.Mutex
	buckets    map[string]*storage.Bucket
	components map[storage.EntityID]*storage.Component
	assets     map[storage.EntityID][]*storage.Asset

	begun, ended int
	beginErr     error
	findErr      error
	browseErr    error
	assetsErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets:    map[string]*storage.Bucket{},
		components: map[storage.EntityID]*storage.Component{},
		assets:     map[storage.EntityID][]*storage.Asset{},
	}
}

func (s *fakeStore) add(repository string, c *storage.Component, assets ...*storage.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[repository]
	if !ok {
		b = &storage.Bucket{ID: storage.EntityID("bucket-" + repository), RepositoryName: repository}
		s.buckets[repository] = b
	}
	c.BucketID = b.ID
	s.components[c.ID] = c
	s.assets[c.ID] = assets
}

func (s *fakeStore) remove(id storage.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.components, id)
	delete(s.assets, id)
}

func (s *fakeStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun, s.ended
}

func (s *fakeStore) BeginTx(context.Context) (storage.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.begun++
	return &fakeTx{store: s}, nil
}

type fakeTx struct {
	store *fakeStore
	ended bool
}

func (t *fakeTx) FindBucket(_ context.Context, repository string) (*storage.Bucket, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	b, ok := t.store.buckets[repository]
	if !ok {
		b = &storage.Bucket{ID: storage.EntityID("bucket-" + repository), RepositoryName: repository}
		t.store.buckets[repository] = b
	}
	return b, nil
}

func (t *fakeTx) FindComponentInBucket(_ context.Context, id storage.EntityID, bucket *storage.Bucket) (*storage.Component, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.findErr != nil {
		return nil, t.store.findErr
	}
	c, ok := t.store.components[id]
	if !ok || c.BucketID != bucket.ID {
		return nil, nil
	}
	return c, nil
}

func (t *fakeTx) BrowseComponents(_ context.Context, bucket *storage.Bucket) iter.Seq2[*storage.Component, error] {
	t.store.mu.Lock()
	var list []*storage.Component
	for _, c := range t.store.components {
		if c.BucketID == bucket.ID {
			list = append(list, c)
		}
	}
	browseErr := t.store.browseErr
	t.store.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	return func(yield func(*storage.Component, error) bool) {
		if browseErr != nil {
			yield(nil, browseErr)
			return
		}
		for _, c := range list {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (t *fakeTx) BrowseAssets(_ context.Context, c *storage.Component) ([]*storage.Asset, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.assetsErr != nil {
		return nil, t.store.assetsErr
	}
	return t.store.assets[c.ID], nil
}

func (t *fakeTx) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	t.store.mu.Lock()
	t.store.ended++
	t.store.mu.Unlock()
	return nil
}

// bulkCall is one recorded BulkPut.
type bulkCall struct {
	repository string
	ids        []string
	docs       []string
}

// fakeSearch records every call and builds documents the way a real service would.
type fakeSearch struct {
	mu      sync.Mutex
	calls   []string
	bulks   []bulkCall
	deletes []string
	errs    map[string]error
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{errs: map[string]error{}}
}

func (s *fakeSearch) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
	return s.errs[method]
}

func (s *fakeSearch) failOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = err
}

func (s *fakeSearch) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSearch) CreateIndex(context.Context, string) error  { return s.record("CreateIndex") }
func (s *fakeSearch) DeleteIndex(context.Context, string) error  { return s.record("DeleteIndex") }
func (s *fakeSearch) RebuildIndex(context.Context, string) error { return s.record("RebuildIndex") }

func (s *fakeSearch) BulkPut(_ context.Context, repository string, components []*storage.Component, id search.IDFunc, doc search.DocFunc) error {
	if err := s.record("BulkPut"); err != nil {
		return err
	}

	call := bulkCall{repository: repository, ids: []string{}, docs: []string{}}
	for _, c := range components {
		body, err := doc(c)
		if err != nil {
			continue
		}
		call.ids = append(call.ids, id(c))
		call.docs = append(call.docs, body)
	}

	s.mu.Lock()
	s.bulks = append(s.bulks, call)
	s.mu.Unlock()
	return nil
}

func (s *fakeSearch) Delete(_ context.Context, _ string, id string) error {
	if err := s.record("Delete"); err != nil {
		return err
	}
	s.mu.Lock()
	s.deletes = append(s.deletes, id)
	s.mu.Unlock()
	return nil
}
