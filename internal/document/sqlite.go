package document

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps documents in a SQLite database.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed document store.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
			return nil, errors.Wrapf(err, errors.CodeDatabase, "create directory for %q", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "open sqlite %q", path)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "set WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "set busy timeout")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key        TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		markdown   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "create schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Resolve returns the document stored under key, or nil if there is none.
func (s *SQLiteStore) Resolve(ctx context.Context, key string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := Document{Key: key}
	err := s.db.QueryRowContext(ctx,
		"SELECT name, markdown FROM documents WHERE key = ?", key,
	).Scan(&doc.Name, &doc.Markdown)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeDatabase, "resolve document"), "key", key)
	}
	return &doc, nil
}

// Put stores or replaces a document.
func (s *SQLiteStore) Put(ctx context.Context, doc Document) error {
	if doc.Key == "" {
		return errors.New(errors.CodeInvalidInput, "document key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, name, markdown, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name = excluded.name,
			markdown = excluded.markdown,
			updated_at = excluded.updated_at`,
		doc.Key, doc.Name, doc.Markdown, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "put %q", doc.Key)
	}
	return nil
}

// Delete removes a document. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "delete %q", key)
	}
	return nil
}

// Keys returns all document keys in lexical order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key FROM documents ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list keys")
	}
	return keys, nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabase, "count documents")
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
