// Package postgres implements component storage on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// DBTX is satisfied by a pool, a connection or a transaction.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	pageSize int
}

// Verify interface implementation at compile time
var _ storage.Store = (*Store)(nil)

// Schema creates the storage tables. It is idempotent.
const Schema = `
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
	attributes JSONB NOT NULL DEFAULT '{}',
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_components_bucket ON components(bucket_id, id);

CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	component_id TEXT NOT NULL REFERENCES components(id) ON DELETE CASCADE,
	bucket_id TEXT NOT NULL,
	name TEXT NOT NULL,
	format TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	checksums JSONB NOT NULL DEFAULT '{}',
	attributes JSONB NOT NULL DEFAULT '{}',
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_component ON assets(component_id, name);
`

// New connects to PostgreSQL, verifies the connection and applies Schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, handlePostgresError("apply schema", err)
	}

	slog.Debug("storage_opened", slog.String("driver", "postgres"))

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool. The schema must already exist.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, pageSize: storage.DefaultPageSize}
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found: %w", operation, err)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - schema migration required: %w", operation, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w", operation, pgErr.Message, pgErr.Code, err)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// BeginTx opens a read-only transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, handlePostgresError("begin transaction", err)
	}
	return &readTx{tx: tx, pageSize: s.pageSize}, nil
}

// EnsureBucket returns the repository's bucket, creating it when missing.
func (s *Store) EnsureBucket(ctx context.Context, repository string) (*storage.Bucket, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO buckets(id, repository_name) VALUES ($1, $2) ON CONFLICT (repository_name) DO NOTHING`,
		uuid.NewString(), repository)
	if err != nil {
		return nil, handlePostgresError("create bucket", err)
	}
	return findBucket(ctx, s.pool, repository)
}

// SaveComponent inserts or replaces a component and its full asset list.
func (s *Store) SaveComponent(ctx context.Context, bucket *storage.Bucket, component *storage.Component, assets []*storage.Asset) (storage.EntityID, error) {
	if component.ID == "" {
		component.ID = storage.EntityID(uuid.NewString())
	}
	component.BucketID = bucket.ID
	if component.LastUpdated.IsZero() {
		component.LastUpdated = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO components(id, bucket_id, format, group_name, name, version, attributes, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				bucket_id = EXCLUDED.bucket_id,
				format = EXCLUDED.format,
				group_name = EXCLUDED.group_name,
				name = EXCLUDED.name,
				version = EXCLUDED.version,
				attributes = EXCLUDED.attributes,
				last_updated = EXCLUDED.last_updated`,
			string(component.ID), string(bucket.ID), component.Format, component.Group,
			component.Name, component.Version, nonNil(component.Attributes), component.LastUpdated)
		if err != nil {
			return handlePostgresError("save component", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM assets WHERE component_id = $1`, string(component.ID)); err != nil {
			return handlePostgresError("replace assets", err)
		}

		batch := &pgx.Batch{}
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
			checksums := asset.Checksums
			if checksums == nil {
				checksums = map[string]string{}
			}
			batch.Queue(`
				INSERT INTO assets(id, component_id, bucket_id, name, format, content_type, size, checksums, attributes, last_updated)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				string(asset.ID), string(component.ID), string(bucket.ID), asset.Name, asset.Format,
				asset.ContentType, asset.Size, checksums, nonNil(asset.Attributes), asset.LastUpdated)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return handlePostgresError("save assets", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return component.ID, nil
}

// DeleteComponent removes a component and, by cascade, its assets.
func (s *Store) DeleteComponent(ctx context.Context, id storage.EntityID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM components WHERE id = $1`, string(id)); err != nil {
		return handlePostgresError("delete component", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func findBucket(ctx context.Context, db DBTX, repository string) (*storage.Bucket, error) {
	var id string
	err := db.QueryRow(ctx, `SELECT id FROM buckets WHERE repository_name = $1`, repository).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rserrors.New(rserrors.ErrCodeBucketNotFound,
			fmt.Sprintf("no bucket for repository %q", repository), nil).
			WithDetail("repository", repository)
	}
	if err != nil {
		return nil, handlePostgresError("find bucket", err)
	}
	return &storage.Bucket{ID: storage.EntityID(id), RepositoryName: repository}, nil
}

type readTx struct {
	tx       pgx.Tx
	pageSize int
	ended    bool
}

func (t *readTx) FindBucket(ctx context.Context, repository string) (*storage.Bucket, error) {
	return findBucket(ctx, t.tx, repository)
}

const componentColumns = `id, bucket_id, format, group_name, name, version, attributes, last_updated`

func (t *readTx) FindComponentInBucket(ctx context.Context, id storage.EntityID, bucket *storage.Bucket) (*storage.Component, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+componentColumns+` FROM components WHERE id = $1 AND bucket_id = $2`,
		string(id), string(bucket.ID))
	if err != nil {
		return nil, handlePostgresError("find component", err)
	}
	components, err := collectComponents(rows)
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
			rows, err := t.tx.Query(ctx,
				`SELECT `+componentColumns+` FROM components
				 WHERE bucket_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
				string(bucket.ID), after, t.pageSize)
			if err != nil {
				yield(nil, handlePostgresError("browse components", err))
				return
			}
			page, err := collectComponents(rows)
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
	rows, err := t.tx.Query(ctx, `
		SELECT id, component_id, bucket_id, name, format, content_type, size, checksums, attributes, last_updated
		FROM assets WHERE component_id = $1 ORDER BY name`, string(component.ID))
	if err != nil {
		return nil, handlePostgresError("browse assets", err)
	}

	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Asset, error) {
		var (
			a                    storage.Asset
			id, compID, bucketID string
		)
		err := row.Scan(&id, &compID, &bucketID, &a.Name, &a.Format, &a.ContentType,
			&a.Size, &a.Checksums, &a.Attributes, &a.LastUpdated)
		a.ID = storage.EntityID(id)
		a.ComponentID = storage.EntityID(compID)
		a.BucketID = storage.EntityID(bucketID)
		return &a, err
	})
	if err != nil {
		return nil, handlePostgresError("scan assets", err)
	}
	return assets, nil
}

func (t *readTx) End() error {
	if t.ended {
		return nil
	}
	t.ended = true
	// Rollback must run even if the operation's context was cancelled.
	return t.tx.Rollback(context.Background())
}

func collectComponents(rows pgx.Rows) ([]*storage.Component, error) {
	components, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.Component, error) {
		var (
			c            storage.Component
			id, bucketID string
		)
		err := row.Scan(&id, &bucketID, &c.Format, &c.Group, &c.Name, &c.Version,
			&c.Attributes, &c.LastUpdated)
		c.ID = storage.EntityID(id)
		c.BucketID = storage.EntityID(bucketID)
		return &c, err
	})
	if err != nil {
		return nil, handlePostgresError("scan components", err)
	}
	return components, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
