package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	lru "github.com/hashicorp/golang-lru/v2"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

const (
	// CoordinateTokenizerName is the name of the component coordinate tokenizer.
	CoordinateTokenizerName = "coordinate_tokenizer"

	// CoordinateAnalyzerName is the name of the analyzer applied to document content.
	CoordinateAnalyzerName = "coordinate_analyzer"

	contentField = "content"
	sourceField  = "source"
)

func init() {
	_ = registry.RegisterTokenizer(CoordinateTokenizerName, coordinateTokenizerConstructor)
}

// BleveService keeps one Bleve index per repository.
// On disk each index lives at <dir>/<repository>.bleve; with no dir they are memory-only.
type BleveService struct {
	mu      sync.Mutex
	dir     string
	workers int
	open    *lru.Cache[string, *bleveIndex]
	mem     map[string]bleve.Index
	closed  bool
}

// Verify interface implementation at compile time
var _ Service = (*BleveService)(nil)

type bleveIndex struct {
	index bleve.Index
	lock  *FileLock
}

func (b *bleveIndex) close() error {
	err := b.index.Close()
	if unlockErr := b.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// NewBleveService creates a Bleve-backed service rooted at dir.
// maxOpen bounds how many on-disk indexes stay open; the least recently used is closed first.
func NewBleveService(dir string, workers, maxOpen int) (*BleveService, error) {
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	if maxOpen <= 0 {
		maxOpen = DefaultConfig().MaxOpenIndexes
	}

	s := &BleveService{
		dir:     dir,
		workers: workers,
		mem:     make(map[string]bleve.Index),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	cache, err := lru.NewWithEvict(maxOpen, func(repository string, idx *bleveIndex) {
		if err := idx.close(); err != nil {
			slog.Warn("search_index_close_failed",
				slog.String("repository", repository),
				slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}
	s.open = cache

	return s, nil
}

// createIndexMapping maps content through the coordinate analyzer and stores the raw body unindexed.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CoordinateAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     CoordinateTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = CoordinateAnalyzerName

	content := bleve.NewTextFieldMapping()
	content.Analyzer = CoordinateAnalyzerName
	content.Store = false

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(contentField, content)
	docMapping.AddFieldMappingsAt(sourceField, source)
	indexMapping.DefaultMapping = docMapping

	return indexMapping, nil
}

func (s *BleveService) indexPath(repository string) (string, error) {
	if repository == "" || repository != filepath.Base(repository) || strings.HasPrefix(repository, ".") {
		return "", rserrors.ValidationError(fmt.Sprintf("invalid repository name %q", repository), nil)
	}
	return filepath.Join(s.dir, repository+".bleve"), nil
}

// get returns the repository's index, opening or creating it as asked. Caller holds s.mu.
func (s *BleveService) get(repository string, create bool) (bleve.Index, error) {
	if s.closed {
		return nil, rserrors.InternalError("search service is closed", nil)
	}

	if s.dir == "" {
		idx, ok := s.mem[repository]
		if ok {
			return idx, nil
		}
		if !create {
			return nil, missingIndex(repository)
		}
		m, err := createIndexMapping()
		if err != nil {
			return nil, err
		}
		idx, err = bleve.NewMemOnly(m)
		if err != nil {
			return nil, rserrors.IndexError("failed to create index", err)
		}
		s.mem[repository] = idx
		return idx, nil
	}

	if cached, ok := s.open.Get(repository); ok {
		return cached.index, nil
	}

	path, err := s.indexPath(repository)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) && !create {
		return nil, missingIndex(repository)
	}

	lock := NewFileLock(path + ".lock")
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, rserrors.IndexError("failed to lock index", err)
	}
	if !acquired {
		return nil, rserrors.New(rserrors.ErrCodeIndexLocked,
			fmt.Sprintf("search index for %s is in use by another process", repository), nil).
			WithDetail("path", path)
	}

	idx, err := openOrCreate(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s.open.Add(repository, &bleveIndex{index: idx, lock: lock})
	return idx, nil
}

func openOrCreate(path string) (bleve.Index, error) {
	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("search_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, rserrors.New(rserrors.ErrCodeCorruptIndex,
				fmt.Sprintf("search index corrupted at %s and cannot be removed", path), err)
		}
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		m, mapErr := createIndexMapping()
		if mapErr != nil {
			return nil, mapErr
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, rserrors.IndexError(fmt.Sprintf("failed to open index at %s", path), err)
	}
	return idx, nil
}

// validateIndexIntegrity checks index_meta.json of an existing index. Absent indexes are valid.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// drop closes and removes the repository's index. Caller holds s.mu.
func (s *BleveService) drop(repository string) error {
	if s.dir == "" {
		if idx, ok := s.mem[repository]; ok {
			delete(s.mem, repository)
			return idx.Close()
		}
		return nil
	}

	path, err := s.indexPath(repository)
	if err != nil {
		return err
	}

	// Remove runs the evict callback, which closes the index and releases its lock.
	s.open.Remove(repository)

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove index %s: %w", path, err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// CreateIndex opens the repository's index, creating it if needed.
func (s *BleveService) CreateIndex(_ context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(repository, true); err != nil {
		return err
	}
	slog.Debug("search_index_created", slog.String("repository", repository))
	return nil
}

// DeleteIndex closes and removes the repository's index.
func (s *BleveService) DeleteIndex(_ context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rserrors.InternalError("search service is closed", nil)
	}
	if err := s.drop(repository); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to delete index for %s", repository), err)
	}
	slog.Debug("search_index_deleted", slog.String("repository", repository))
	return nil
}

// RebuildIndex replaces the repository's index with an empty one.
func (s *BleveService) RebuildIndex(_ context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rserrors.InternalError("search service is closed", nil)
	}
	if err := s.drop(repository); err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to reset index for %s", repository), err)
	}
	_, err := s.get(repository, true)
	return err
}

// Put indexes or replaces a single document.
func (s *BleveService) Put(ctx context.Context, repository, id, body string) error {
	return s.write(ctx, repository, []Document{{ID: id, Body: body}})
}

// BulkPut builds documents in parallel, then writes them as one Bleve batch.
func (s *BleveService) BulkPut(ctx context.Context, repository string, components []*storage.Component, id IDFunc, doc DocFunc) error {
	docs, err := buildDocuments(ctx, repository, components, id, doc, s.workers)
	if err != nil {
		return err
	}
	return s.write(ctx, repository, docs)
}

func (s *BleveService) write(ctx context.Context, repository string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, bleveDocument{Content: DocumentText(d.Body), Source: d.Body}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID, err)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes a document. Unknown ids and missing indexes are ignored.
func (s *BleveService) Delete(_ context.Context, repository, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if errors.Is(err, rserrors.ErrIndexMissing) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := idx.Delete(id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// Search runs a match query over document content.
func (s *BleveService) Search(ctx context.Context, repository, query string, limit int) ([]*Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		return []*Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField(contentField)

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, rserrors.New(rserrors.ErrCodeSearchFailed, "search failed", err)
	}

	hits := make([]*Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, &Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Get returns the stored body of a document.
func (s *BleveService) Get(ctx context.Context, repository, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if errors.Is(err, rserrors.ErrIndexMissing) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{sourceField}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	if len(result.Hits) == 0 {
		return "", false, nil
	}

	body, _ := result.Hits[0].Fields[sourceField].(string)
	return body, true, nil
}

// AllIDs returns every document id in the repository's index, sorted.
func (s *BleveService) AllIDs(ctx context.Context, repository string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if err != nil {
		return nil, err
	}

	docCount, err := idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search for all IDs: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of documents in the repository's index.
func (s *BleveService) Count(_ context.Context, repository string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(repository, false)
	if err != nil {
		return 0, err
	}

	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}

// Close closes every open index.
func (s *BleveService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for repository, idx := range s.mem {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", repository, err))
		}
	}
	s.mem = nil

	// Purge runs the evict callback for every open index.
	s.open.Purge()

	return errors.Join(errs...)
}

// coordinateTokenizerConstructor creates a new coordinate tokenizer for Bleve.
func coordinateTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCoordinateTokenizer{}, nil
}

// bleveCoordinateTokenizer implements analysis.Tokenizer on top of Tokenize.
type bleveCoordinateTokenizer struct{}

// Tokenize implements analysis.Tokenizer. Offsets are byte offsets into input even when
// lowercasing changes a rune's encoded length.
func (t *bleveCoordinateTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start, end, found := foldIndex(text[offset:], token)
		if found {
			start += offset
			end += offset
		} else {
			// compound words repeat text already consumed by their parts
			start = offset
			end = min(start+len(token), len(text))
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if found {
			offset = end
		}
	}

	return result
}

// foldIndex finds the first span of s whose lowercase form equals token.
func foldIndex(s, token string) (start, end int, ok bool) {
	for i := range s {
		if n, ok := foldPrefix(s[i:], token); ok {
			return i, i + n, true
		}
	}
	return 0, 0, false
}

// foldPrefix reports how many bytes of s lowercase to exactly token.
func foldPrefix(s, token string) (int, bool) {
	rest := token
	for i, r := range s {
		if rest == "" {
			return i, true
		}
		lower := strings.ToLower(string(r))
		if !strings.HasPrefix(rest, lower) {
			return 0, false
		}
		rest = rest[len(lower):]
	}
	return len(s), rest == ""
}
