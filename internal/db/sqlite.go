// Package db implements the SQLite persistence layer for pingd: daily
// request counters, recent protocol errors, and the recorder that feeds
// them from the event bus.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// busyTimeoutMS is how long a writer waits for a lock held by another
// process before failing with SQLITE_BUSY.
const busyTimeoutMS = 5000

// sqliteDB is the statistics file. Within the daemon the recorder flush,
// the scheduler's prune and the API's reads share one connection, and
// writes are serialized by mu. A `pingd stats` run opens the same file
// from a second process; WAL lets it read while the daemon flushes, and
// the busy timeout covers the brief checkpoint locks.
type sqliteDB struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// openSQLite opens or creates the statistics file, creating its directory.
func openSQLite(dbPath string) (*sqliteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// Pragmas are per connection, so keep exactly one
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to configure statistics database")
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("statistics database opened")

	return &sqliteDB{db: db, path: dbPath}, nil
}

func (d *sqliteDB) close() error {
	return d.db.Close()
}

// exec runs a schema statement.
func (d *sqliteDB) exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// query runs a read. Readers are not serialized against the flush; the
// single connection orders them.
func (d *sqliteDB) query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// transaction runs fn in one transaction, so a flush or prune lands whole
// or not at all.
func (d *sqliteDB) transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
