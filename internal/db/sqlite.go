// Package db stores rconsole's named connection profiles in SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/energizer-project/rconsole/internal/util"
)

// Database wraps a SQLite database connection with serialised writes.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// migration is one schema step. Steps run in order and are recorded in
// schema_version so each runs once.
type migration struct {
	version int
	sql     string
}

// NewDatabase opens or creates a SQLite database at the given path.
// ":memory:" opens a private in-memory database.
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		if err := util.EnsureDir(filepath.Dir(dbPath)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// One connection: SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			log.Warn().Err(err).Msg("failed to enable WAL mode")
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Debug().Str("component", "db").Str("path", dbPath).Msg("database opened")

	return &Database{
		db:   db,
		path: dbPath,
	}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Exec executes a query without returning rows (INSERT, UPDATE, DELETE).
func (d *Database) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.ExecContext(ctx, query, args...)
}

// Query executes a query that returns rows (SELECT).
func (d *Database) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns a single row.
func (d *Database) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// Transaction executes a function within a database transaction.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// migrate applies the migrations newer than the recorded schema version.
func (d *Database) migrate(ctx context.Context, steps []migration) error {
	return d.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
			return fmt.Errorf("failed to create schema_version: %w", err)
		}

		var current int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		for _, step := range steps {
			if step.version <= current {
				continue
			}
			if _, err := tx.ExecContext(ctx, step.sql); err != nil {
				return fmt.Errorf("migration %d failed: %w", step.version, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, step.version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", step.version, err)
			}
			log.Debug().Str("component", "db").Int("version", step.version).Msg("applied migration")
		}
		return nil
	})
}
