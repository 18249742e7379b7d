// Package cache provides the on-device store that is ChoreQuest's single
// source of truth for what this device currently believes, independent of
// connectivity.
//
// The store is an embedded SQLite database (WAL mode for concurrent reads)
// holding three tables:
//   - entries: cached reward entries, with version and sync_status
//   - categories: cached categories, with version and sync_status
//   - sync_queue: durable pending mutations awaiting remote confirmation
//
// Entities and the sync queue share one transactional store so an entity
// mutation and its queue operation commit atomically: a crash between the
// two can never leave an entity dirty with no queue operation covering it.
//
// The store performs no retries and never touches the network; retry policy
// lives in the queue package and the sync orchestrator.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with ChoreQuest-specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new cache store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema before
// first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := cache.Open(".chorequest/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storeErr("open", fmt.Errorf("failed to create cache directory: %w", err))
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, storeErr("open", fmt.Errorf("failed to open database: %w", err))
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, storeErr("open", fmt.Errorf("failed to ping database: %w", err))
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads while the drain loop writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, storeErr("open", fmt.Errorf("failed to enable WAL mode: %w", err))
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, storeErr("open", fmt.Errorf("failed to set busy timeout: %w", err))
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, storeErr("open", fmt.Errorf("failed to enable foreign keys: %w", err))
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the filesystem location of the cache database.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return storeErr("close", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		description TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		category_id TEXT,
		earned_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL DEFAULT 'dirty',

		-- Tombstone: set when deleted locally, row purged once the
		-- remote delete is confirmed.
		deleted_at TEXT
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL DEFAULT 'dirty',
		deleted_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload BLOB,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 1,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		created_at TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		last_attempt_at TEXT,
		last_error TEXT
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(owner_id);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category_id);
	CREATE INDEX IF NOT EXISTS idx_entries_earned ON entries(owner_id, earned_at);
	CREATE INDEX IF NOT EXISTS idx_entries_status ON entries(sync_status);
	CREATE INDEX IF NOT EXISTS idx_categories_owner ON categories(owner_id);

	-- Composite index for ready operation drains
	CREATE INDEX IF NOT EXISTS idx_queue_ready
	    ON sync_queue(status, scheduled_at, priority);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_type, entity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return storeErr("init schema", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
