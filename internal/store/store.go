// Package store is the SQLite persistence layer for documents, chunks and
// ingest runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents(
	id INTEGER PRIMARY KEY,
	url TEXT UNIQUE,
	title TEXT,
	source_type TEXT,
	published_date TEXT NULL,
	content_text TEXT,
	content_hash TEXT,
	image_url TEXT NULL,
	excluded INTEGER DEFAULT 0,
	excluded_reason TEXT NULL,
	normalized_url TEXT NULL,
	canonical_url TEXT NULL,
	text_length INTEGER NULL,
	normalized_hash TEXT NULL,
	created_at TEXT,
	updated_at TEXT
);
CREATE TABLE IF NOT EXISTS chunks(
	id INTEGER PRIMARY KEY,
	document_id INTEGER,
	chunk_index INTEGER,
	heading TEXT NULL,
	chunk_text TEXT,
	UNIQUE(document_id, chunk_index)
);
CREATE TABLE IF NOT EXISTS ingest_runs(
	id INTEGER PRIMARY KEY,
	created_at TEXT,
	started_at TEXT,
	finished_at TEXT,
	status TEXT,
	stats_json TEXT,
	error TEXT,
	pages_crawled INTEGER DEFAULT 0,
	documents_seen INTEGER DEFAULT 0,
	chunks_embedded INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_documents_normalized_url ON documents(normalized_url);
CREATE INDEX IF NOT EXISTS idx_documents_normalized_hash ON documents(normalized_hash);
CREATE INDEX IF NOT EXISTS idx_documents_excluded ON documents(excluded);
`

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the SQLite handle. All query methods are defined on the embedded
// queries type so they are equally available inside a transaction.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	queries
}

// Tx exposes the same query surface within one transaction.
type Tx struct {
	queries
}

// Open creates (or opens) the database at path, applies the schema, and adds
// any columns missing from databases created by earlier versions.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, queries: queries{q: db}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	upgrades := []struct{ table, column, colType string }{
		{"documents", "image_url", "TEXT"},
		{"documents", "excluded", "INTEGER DEFAULT 0"},
		{"documents", "excluded_reason", "TEXT"},
		{"documents", "normalized_url", "TEXT"},
		{"documents", "canonical_url", "TEXT"},
		{"documents", "text_length", "INTEGER"},
		{"documents", "normalized_hash", "TEXT"},
		{"ingest_runs", "pages_crawled", "INTEGER"},
		{"ingest_runs", "documents_seen", "INTEGER"},
		{"ingest_runs", "chunks_embedded", "INTEGER"},
	}
	for _, u := range upgrades {
		if err := s.ensureColumn(ctx, u.table, u.column, u.colType); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureColumn(ctx context.Context, table, column, colType string) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&name)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	s.logger.Info("schema upgraded",
		zap.String("table", table), zap.String("column", column))
	return nil
}

// WithTx runs fn inside one transaction, committing on nil and rolling back
// on error.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{queries: queries{q: tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
