// Package storage persists extraction results. The result store is
// append-only: a job writes exactly one terminal row and rows are never
// updated or deleted.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the subset of *sql.DB the repositories need.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Open connects to the result database. Supported drivers are sqlite3 (the
// default, file-backed or :memory:) and postgres.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate creates the result tables if they do not exist. The DDL sticks to
// types both sqlite and postgres accept.
func Migrate(ctx context.Context, db DB) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS extraction_results (
		job_id           TEXT PRIMARY KEY,
		doc_path         TEXT NOT NULL,
		vintage          TEXT NOT NULL,
		table_kind       TEXT NOT NULL,
		page             INTEGER NOT NULL,
		status           TEXT NOT NULL,
		method           TEXT NOT NULL,
		confidence       REAL NOT NULL,
		failure_kind     TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		attempts         INTEGER NOT NULL,
		record_json      TEXT,
		extract_ms       INTEGER NOT NULL,
		validate_ms      INTEGER NOT NULL,
		repair_ms        INTEGER NOT NULL,
		completed_at     TIMESTAMP NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create extraction_results: %w", err)
	}
	const idx = `
	CREATE INDEX IF NOT EXISTS idx_results_doc
		ON extraction_results (doc_path, vintage, table_kind, page)`
	if _, err := db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("index extraction_results: %w", err)
	}
	return nil
}
