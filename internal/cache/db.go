// Package cache stores fetched documentation in SQLite with
// stale-while-revalidate semantics.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB is the SQLite connection backing the cache.
type DB struct {
	db   *sql.DB
	path string
}

// NewDB creates a DB for path. Use MemoryPath for an in-memory database.
func NewDB(path string) *DB {
	return &DB{path: path}
}

// Open opens the database and creates the schema if needed.
func (db *DB) Open() error {
	if db.path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(db.path), 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", db.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; a single connection also keeps :memory: shared.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// WAL is not supported for in-memory databases.
	if db.path != MemoryPath {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	db.db = conn

	if err := db.createSchema(); err != nil {
		_ = conn.Close()
		db.db = nil
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS toc_cache (
			library_id         TEXT PRIMARY KEY,
			llms_txt_url       TEXT NOT NULL,
			content            TEXT NOT NULL,
			discovered_domains TEXT NOT NULL DEFAULT '',
			fetched_at         TEXT NOT NULL,
			expires_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS page_cache (
			url_hash           TEXT PRIMARY KEY,
			url                TEXT NOT NULL UNIQUE,
			content            TEXT NOT NULL,
			headings           TEXT NOT NULL DEFAULT '',
			discovered_domains TEXT NOT NULL DEFAULT '',
			fetched_at         TEXT NOT NULL,
			expires_at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_toc_expires ON toc_cache(expires_at);
		CREATE INDEX IF NOT EXISTS idx_page_expires ON page_cache(expires_at);

		CREATE TABLE IF NOT EXISTS server_metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	_, err := db.db.Exec(schema)
	return err
}
