// Package db opens the SQLite database holding detached-process records.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// pragmaParams enables WAL for concurrent readers and waits up to five
// seconds on a locked database.
const pragmaParams = "_journal_mode=WAL&_busy_timeout=5000"

// Open opens (creating if needed) the database at dbPath and runs the
// schema migrations.
func Open(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Connection pragmas go in the DSN so that every pooled connection
	// gets them, not only the first.
	db, err := sql.Open("sqlite3", dbPath+"?"+pragmaParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// runMigrations executes the database schema migrations.
func runMigrations(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS processes (
		port INTEGER PRIMARY KEY,
		command TEXT NOT NULL,
		path TEXT,
		pid INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		timeout INTEGER NOT NULL,
		timer_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_processes_start_time ON processes(start_time);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// NewTestDB creates a new in-memory database for testing.
// Each call returns an independent database.
func NewTestDB() (*sql.DB, error) {
	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	testDB.SetMaxOpenConns(1)

	if err := runMigrations(testDB); err != nil {
		testDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return testDB, nil
}
