// Package sqlite implements component storage on SQLite using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// Store implements storage.Store on a single SQLite database.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	pageSize int
	closed   bool
}

// Verify interface implementation at compile time
var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets how many components are read per page while browsing.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New opens (creating if needed) the storage database at path.
// If path is empty, creates an in-memory database for testing.
func New(path string, opts ...Option) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: keeps the in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params, so pragmas are set explicitly
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		db:       db,
		path:     path,
		pageSize: storage.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Debug("storage_opened",
		slog.String("driver", "sqlite"),
		slog.String("path", path))

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buckets (
		id TEXT PRIMARY KEY,
		repository_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		bucket_id TEXT NOT NULL REFERENCES buckets(id) ON DELETE CASCADE,
		format TEXT NOT NULL,
		group_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		attributes TEXT NOT NULL DEFAULT '{}',
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_components_bucket ON components(bucket_id, id);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		component_id TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
		bucket_id TEXT NOT NULL,
		name TEXT NOT NULL,
		format TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		checksums TEXT NOT NULL DEFAULT '{}',
		attributes TEXT NOT NULL DEFAULT '{}',
		last_updated INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assets_component ON assets(component_id, name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BeginTx opens a read-only unit of work.
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("storage is closed")
	}

	// The driver does not honor read-only tx options; the unit of work only reads and always rolls back.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &readTx{tx: tx, pageSize: s.pageSize}, nil
}

// EnsureBucket returns the repository's bucket, creating it when missing.
func (s *Store) EnsureBucket(ctx context.Context, repository string) (*storage.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("storage is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(id, repository_name) VALUES (?, ?)`,
		uuid.NewString(), repository)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket for %s: %w", repository, err)
	}

	return findBucket(ctx, s.db, repository)
}

// SaveComponent inserts or replaces a component and its full asset list.
func (s *Store) SaveComponent(ctx context.Context, bucket *storage.Bucket, component *storage.Component, assets []*storage.Asset) (storage.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("storage is closed")
	}

	if component.ID == "" {
		component.ID = storage.EntityID(uuid.NewString())
	}
	component.BucketID = bucket.ID
	if component.LastUpdated.IsZero() {
		component.LastUpdated = time.Now().UTC()
	}

	attrs, err := encodeJSON(component.Attributes)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes of %s: %w", component.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO components(id, bucket_id, format, group_name, name, version, attributes, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bucket_id = excluded.bucket_id,
			format = excluded.format,
			group_name = excluded.group_name,
			name = excluded.name,
			version = excluded.version,
			attributes = excluded.attributes,
			last_updated = excluded.last_updated`,
		string(component.ID), string(bucket.ID), component.Format, component.Group,
		component.Name, component.Version, attrs, component.LastUpdated.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to save component %s: %w", component.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE component_id = ?`, string(component.ID)); err != nil {
		return "", fmt.Errorf("failed to replace assets of %s: %w", component.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets(id, component_id, bucket_id, name, format, content_type, size, checksums, attributes, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare asset statement: %w", err)
	}
	defer stmt.Close()

	for _, asset := range assets {
		if asset.ID == "" {
			asset.ID = storage.EntityID(uuid.NewString())
		}
		asset.ComponentID = component.ID
		asset.BucketID = bucket.ID
		if asset.Format == "" {
			asset.Format = component.Format
		}
		if asset.LastUpdated.IsZero() {
			asset.LastUpdated = component.LastUpdated
		}

		checksums, err := encodeJSON(asset.Checksums)
		if err != nil {
			return "", fmt.Errorf("failed to encode checksums of %s: %w", asset.Name, err)
		}
		assetAttrs, err := encodeJSON(asset.Attributes)
		if err != nil {
			return "", fmt.Errorf("failed to encode attributes of %s: %w", asset.Name, err)
		}

		if _, err := stmt.ExecContext(ctx,
			string(asset.ID), string(component.ID), string(bucket.ID), asset.Name, asset.Format,
			asset.ContentType, asset.Size, checksums, assetAttrs, asset.LastUpdated.UnixMilli()); err != nil {
			return "", fmt.Errorf("failed to save asset %s: %w", asset.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit component %s: %w", component.ID, err)
	}
	return component.ID, nil
}

// DeleteComponent removes a component and, by cascade, its assets.
func (s *Store) DeleteComponent(ctx context.Context, id storage.EntityID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("storage is closed")
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete component %s: %w", id, err)
	}
	return nil
}

// Close closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findBucket(ctx context.Context, q queryer, repository string) (*storage.Bucket, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM buckets WHERE repository_name = ?`, repository).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, rserrors.New(rserrors.ErrCodeBucketNotFound,
			fmt.Sprintf("no bucket for repository %q", repository), nil).
			WithDetail("repository", repository)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bucket of %s: %w", repository, err)
	}
	return &storage.Bucket{ID: storage.EntityID(id), RepositoryName: repository}, nil
}

// readTx is a read-only storage.Tx over a *sql.Tx.
type readTx struct {
	tx       *sql.Tx
	pageSize int
	ended    bool
}

func (t *readTx) FindBucket(ctx context.Context, repository string) (*storage.Bucket, error) {
	return findBucket(ctx, t.tx, repository)
}

const componentColumns = `id, bucket_id, format, group_name, name, version, attributes, last_updated`

func (t *readTx) FindComponentInBucket(ctx context.Context, id storage.EntityID, bucket *storage.Bucket) (*storage.Component, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE id = ? AND bucket_id = ?`,
		string(id), string(bucket.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to find component %s: %w", id, err)
	}
	components, err := scanComponents(rows)
	if err != nil {
		return nil, err
	}
	if len(components) == 0 {
		return nil, nil
	}
	return components[0], nil
}

func (t *readTx) BrowseComponents(ctx context.Context, bucket *storage.Bucket) iter.Seq2[*storage.Component, error] {
	return func(yield func(*storage.Component, error) bool) {
		after := ""
		for {
			// Each page is fully read before yielding so callers may query the tx in between.
			rows, err := t.tx.QueryContext(ctx,
				`SELECT `+componentColumns+` FROM components
				 WHERE bucket_id = ? AND id > ? ORDER BY id LIMIT ?`,
				string(bucket.ID), after, t.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("failed to browse components: %w", err))
				return
			}
			page, err := scanComponents(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < t.pageSize {
				return
			}
			after = string(page[len(page)-1].ID)
		}
	}
}

func (t *readTx) BrowseAssets(ctx context.Context, component *storage.Component) ([]*storage.Asset, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, component_id, bucket_id, name, format, content_type, size, checksums, attributes, last_updated
		FROM assets WHERE component_id = ? ORDER BY name`, string(component.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to browse assets of %s: %w", component.ID, err)
	}
	defer rows.Close()

	var assets []*storage.Asset
	for rows.Next() {
		var (
			a                    storage.Asset
			id, compID, bucketID string
			checksums, attrs     string
			lastUpdated          int64
		)
		if err := rows.Scan(&id, &compID, &bucketID, &a.Name, &a.Format, &a.ContentType,
			&a.Size, &checksums, &attrs, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.ID = storage.EntityID(id)
		a.ComponentID = storage.EntityID(compID)
		a.BucketID = storage.EntityID(bucketID)
		a.LastUpdated = time.UnixMilli(lastUpdated).UTC()
		if err := json.Unmarshal([]byte(checksums), &a.Checksums); err != nil {
			return nil, fmt.Errorf("failed to decode checksums of %s: %w", a.Name, err)
		}
		if err := json.Unmarshal([]byte(attrs), &a.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", a.Name, err)
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func (t *readTx) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	return t.tx.Rollback()
}

func scanComponents(rows *sql.Rows) ([]*storage.Component, error) {
	defer rows.Close()

	var components []*storage.Component
	for rows.Next() {
		var (
			c            storage.Component
			id, bucketID string
			attrs        string
			lastUpdated  int64
		)
		if err := rows.Scan(&id, &bucketID, &c.Format, &c.Group, &c.Name, &c.Version,
			&attrs, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		c.ID = storage.EntityID(id)
		c.BucketID = storage.EntityID(bucketID)
		c.LastUpdated = time.UnixMilli(lastUpdated).UTC()
		if err := json.Unmarshal([]byte(attrs), &c.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", id, err)
		}
		components = append(components, &c)
	}
	return components, rows.Err()
}

func encodeJSON[T any](v map[string]T) (string, error) {
	if len(v) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
