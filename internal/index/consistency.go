package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphan indicates an indexed document without a stored component.
	InconsistencyOrphan InconsistencyType = iota
	// InconsistencyMissing indicates a stored component without an indexed document.
	InconsistencyMissing
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphan:
		return "orphan"
	case InconsistencyMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// MarshalText renders the type by name in JSON output.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents one component whose index state disagrees with storage.
type Inconsistency struct {
	Type        InconsistencyType `json:"type"`
	ComponentID string            `json:"component_id"`
	Details     string            `json:"details"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Repository string `json:"repository"`
	// Stored is the number of components in storage.
	Stored int `json:"stored"`
	// Indexed is the number of documents in the index.
	Indexed int `json:"indexed"`
	// Inconsistencies contains all detected issues, orphans first.
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	// Duration is how long the check took.
	Duration time.Duration `json:"duration_ns"`
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// IndexReader lists the documents of a repository's index.
type IndexReader interface {
	AllIDs(ctx context.Context, repository string) ([]string, error)
	Count(ctx context.Context, repository string) (int, error)
}

// ConsistencyChecker compares storage, the source of truth, with a search index.
type ConsistencyChecker struct {
	storage storage.TxSupplier
	index   IndexReader
}

// NewConsistencyChecker creates a new checker.
func NewConsistencyChecker(store storage.TxSupplier, index IndexReader) *ConsistencyChecker {
	return &ConsistencyChecker{storage: store, index: index}
}

// Check finds orphaned and missing documents of one repository.
// This is O(n) in the number of stored components plus indexed documents.
func (c *ConsistencyChecker) Check(ctx context.Context, repository string) (*CheckResult, error) {
	start := time.Now()

	stored, err := c.storedIDs(ctx, repository)
	if err != nil {
		return nil, err
	}

	indexedIDs, err := c.index.AllIDs(ctx, repository)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool, len(indexedIDs))
	for _, id := range indexedIDs {
		indexed[id] = true
	}

	var issues []Inconsistency
	for _, id := range indexedIDs {
		if !stored[id] {
			issues = append(issues, Inconsistency{
				Type:        InconsistencyOrphan,
				ComponentID: id,
				Details:     "indexed document without a stored component",
			})
		}
	}

	var missing []string
	for id := range stored {
		if !indexed[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		issues = append(issues, Inconsistency{
			Type:        InconsistencyMissing,
			ComponentID: id,
			Details:     "stored component missing from the index",
		})
	}

	return &CheckResult{
		Repository:      repository,
		Stored:          len(stored),
		Indexed:         len(indexedIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

func (c *ConsistencyChecker) storedIDs(ctx context.Context, repository string) (map[string]bool, error) {
	tx, err := c.storage.BeginTx(ctx)
	if err != nil {
		return nil, rserrors.StorageError("failed to open storage transaction", err)
	}
	defer tx.End()

	ids := make(map[string]bool)

	bucket, err := tx.FindBucket(ctx, repository)
	if errors.Is(err, rserrors.ErrBucketNotFound) {
		return ids, nil
	}
	if err != nil {
		return nil, rserrors.StorageError(fmt.Sprintf("failed to find bucket of %s", repository), err)
	}

	for component, err := range tx.BrowseComponents(ctx, bucket) {
		if err != nil {
			return nil, rserrors.StorageError(fmt.Sprintf("failed to browse components of %s", repository), err)
		}
		ids[component.ID.String()] = true
	}
	return ids, nil
}

// Repair fixes issues through the repository's facet:
// orphans are deleted one by one (best-effort), missing components are indexed in one BulkPut.
func (c *ConsistencyChecker) Repair(ctx context.Context, target Target, issues []Inconsistency) error {
	var orphans []string
	var missing []storage.EntityID

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphan:
			orphans = append(orphans, issue.ComponentID)
		case InconsistencyMissing:
			missing = append(missing, storage.EntityID(issue.ComponentID))
		}
	}

	deleted := 0
	for _, id := range orphans {
		if err := target.Delete(ctx, storage.EntityID(id)); err != nil {
			slog.Warn("failed to delete orphan document",
				slog.String("component_id", id),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("deleted orphan documents", slog.Int("count", deleted))
	}

	if len(missing) > 0 {
		if err := target.BulkPut(ctx, missing); err != nil {
			return err
		}
		slog.Info("indexed missing components", slog.Int("count", len(missing)))
	}

	return nil
}

// QuickCheck compares counts only.
// Returns true if the index holds as many documents as storage holds components.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context, repository string) (bool, error) {
	stored, err := c.storedIDs(ctx, repository)
	if err != nil {
		return false, err
	}

	indexed, err := c.index.Count(ctx, repository)
	if err != nil {
		return false, err
	}

	consistent := len(stored) == indexed
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.String("repository", repository),
			slog.Int("stored", len(stored)),
			slog.Int("indexed", indexed))
	}
	return consistent, nil
}
