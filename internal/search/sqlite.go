package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// SQLiteFileName is the database file used inside the search directory.
const SQLiteFileName = "search.db"

// SQLiteService keeps every repository index in one SQLite database using FTS5.
// WAL mode lets other processes read while this one writes.
type SQLiteService struct {
	mu      sync.RWMutex
	db      *sql.DB
	path    string
	workers int
	closed  bool
}

// Verify interface implementation at compile time
var _ Service = (*SQLiteService)(nil)

// validateSQLiteIntegrity checks if an existing search database is usable before opening.
// Returns nil if valid or absent.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteService opens the search database under dir.
// If dir is empty, creates an in-memory database for testing.
func NewSQLiteService(dir string, workers int) (*SQLiteService, error) {
	dsn := ":memory:"
	var path string
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		path = filepath.Join(dir, SQLiteFileName)

		// A corrupt index holds nothing storage cannot regenerate.
		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("search_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, rserrors.New(rserrors.ErrCodeCorruptIndex,
					fmt.Sprintf("search index corrupted at %s and cannot be removed", path), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("search_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, rebuild repositories"))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if workers <= 0 {
		workers = DefaultConfig().Workers
	}

	s := &SQLiteService{
		db:      db,
		path:    path,
		workers: workers,
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteService) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexes (
		repository TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		repository TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (repository, doc_id)
	);

	-- content holds pre-tokenized text; repository and doc_id are stored but not searchable
	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		repository UNINDEXED,
		doc_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteService) checkOpen() error {
	if s.closed {
		return rserrors.InternalError("search service is closed", nil)
	}
	return nil
}

// CreateIndex registers the repository's index.
func (s *SQLiteService) CreateIndex(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO indexes (repository, created_at) VALUES (?, ?)`,
		repository, time.Now().UnixNano())
	if err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to create index for %s", repository), err)
	}

	slog.Debug("search_index_created", slog.String("repository", repository))
	return nil
}

// DeleteIndex drops the repository's index and documents.
func (s *SQLiteService) DeleteIndex(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearDocuments(ctx, tx, repository); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE repository = ?`, repository)
		return err
	})
	if err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to delete index for %s", repository), err)
	}

	slog.Debug("search_index_deleted", slog.String("repository", repository))
	return nil
}

// RebuildIndex empties the repository's index, creating it if absent.
func (s *SQLiteService) RebuildIndex(ctx context.Context, repository string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearDocuments(ctx, tx, repository); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO indexes (repository, created_at) VALUES (?, ?)`,
			repository, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return rserrors.IndexError(fmt.Sprintf("failed to reset index for %s", repository), err)
	}
	return nil
}

// Put indexes or replaces a single document.
func (s *SQLiteService) Put(ctx context.Context, repository, id, body string) error {
	return s.write(ctx, repository, []Document{{ID: id, Body: body}})
}

// BulkPut builds documents in parallel, then writes them in one transaction.
func (s *SQLiteService) BulkPut(ctx context.Context, repository string, components []*storage.Component, id IDFunc, doc DocFunc) error {
	docs, err := buildDocuments(ctx, repository, components, id, doc, s.workers)
	if err != nil {
		return err
	}
	return s.write(ctx, repository, docs)
}

func (s *SQLiteService) write(ctx context.Context, repository string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := indexExists(ctx, tx, repository)
		if err != nil {
			return err
		}
		if !exists {
			return missingIndex(repository)
		}
		if len(docs) == 0 {
			return nil
		}

		now := time.Now().UnixNano()
		for _, d := range docs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (repository, doc_id, body, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT (repository, doc_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
				repository, d.ID, d.Body, now); err != nil {
				return fmt.Errorf("failed to store document %s: %w", d.ID, err)
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents_fts WHERE repository = ? AND doc_id = ?`,
				repository, d.ID); err != nil {
				return fmt.Errorf("failed to delete old content for %s: %w", d.ID, err)
			}

			content := strings.Join(Tokenize(DocumentText(d.Body)), " ")
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents_fts (repository, doc_id, content) VALUES (?, ?, ?)`,
				repository, d.ID, content); err != nil {
				return fmt.Errorf("failed to index content for %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// Delete removes a document. Unknown ids and missing indexes are ignored.
func (s *SQLiteService) Delete(ctx context.Context, repository, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE repository = ? AND doc_id = ?`, repository, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents_fts WHERE repository = ? AND doc_id = ?`, repository, id); err != nil {
			return fmt.Errorf("failed to delete content for %s: %w", id, err)
		}
		return nil
	})
}

// Search matches every query token against indexed content, best BM25 score first.
func (s *SQLiteService) Search(ctx context.Context, repository, query string, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if err := s.requireIndex(ctx, repository); err != nil {
		return nil, err
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []*Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	// Quote every token so FTS5 operators in user input are taken literally.
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	ftsQuery := strings.Join(quoted, " OR ")

	// bm25() returns lower-is-better scores; negate so higher is better.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, -bm25(documents_fts) AS score
		FROM documents_fts
		WHERE content MATCH ? AND repository = ?
		ORDER BY score DESC, doc_id
		LIMIT ?`,
		ftsQuery, repository, limit)
	if err != nil {
		return nil, rserrors.New(rserrors.ErrCodeSearchFailed, "search failed", err)
	}
	defer rows.Close()

	hits := []*Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

// Get returns a stored document body.
func (s *SQLiteService) Get(ctx context.Context, repository, id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return "", false, err
	}

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE repository = ? AND doc_id = ?`, repository, id).Scan(&body)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return body, true, nil
}

// AllIDs returns every document id in the repository's index.
func (s *SQLiteService) AllIDs(ctx context.Context, repository string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if err := s.requireIndex(ctx, repository); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id FROM documents WHERE repository = ? ORDER BY doc_id`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of documents in the repository's index.
func (s *SQLiteService) Count(ctx context.Context, repository string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if err := s.requireIndex(ctx, repository); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE repository = ?`, repository).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteService) requireIndex(ctx context.Context, repository string) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexes WHERE repository = ?`, repository).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up index: %w", err)
	}
	if n == 0 {
		return missingIndex(repository)
	}
	return nil
}

func (s *SQLiteService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func indexExists(ctx context.Context, tx *sql.Tx, repository string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM indexes WHERE repository = ?`, repository).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up index: %w", err)
	}
	return n > 0, nil
}

func clearDocuments(ctx context.Context, tx *sql.Tx, repository string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE repository = ?`, repository); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE repository = ?`, repository)
	return err
}

func missingIndex(repository string) error {
	return rserrors.New(rserrors.ErrCodeIndexMissing,
		fmt.Sprintf("no search index for repository %s", repository), nil).
		WithDetail("repository", repository).
		WithSuggestion("Start the repository or run 'reposync rebuild'")
}
