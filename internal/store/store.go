// Package store is the coordinator's persistent store and queue API:
// a single file-backed, transactional SQLite database that is the
// sole source of truth for anime, jobs, the title-selection cache, and
// worker heartbeats. Every other component reaches the database only
// through a *Store method; nothing else opens the file directly.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB configured for the coordinator's durability and
// concurrency requirements.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary, along with its parent directory) the
// SQLite database at path, enables
// WAL journaling and foreign-key enforcement, applies the schema, and tunes
// the connection pool. WAL mode is what makes queue operations durable
// across a crash mid-transaction, and is also why operators must not
// copy jobs.db without its -wal/-shm sidecars.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for store at %q: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(%d)",
		path, 5000)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// "database is locked" churn under the busy_timeout above and lets the
	// engine itself serialize callers, per the queue API's concurrency
	// contract: callers are serialized by the store.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store at %q not reachable: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema to %q: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for components (e.g. the operator HTTP
// API's health check) that only need a connectivity probe, not a queue
// operation.
func (s *Store) DB() *sql.DB {
	return s.db
}
