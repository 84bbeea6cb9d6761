// Package db opens and migrates the ctmon SQLite database. The workload
// is append-heavy: the background writer commits certificate batches in
// large transactions while the HTTP handlers read scan history and stats,
// so the database runs in WAL mode with a single writer connection.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sessionPragmas tune the connection for the batch-insert path.
// WAL lets status and history reads proceed while a certificate batch
// commits; synchronous=NORMAL is durable under WAL without an fsync per
// commit, which matters when every scan range is its own transaction.
var sessionPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA cache_size = -64000",
	"PRAGMA wal_autocheckpoint = 1000",
}

// Open opens (or creates) the database at path and applies the session
// pragmas. The pool is capped at one connection so the batch writer, the
// scan-history updates, and the API reads never race into SQLITE_BUSY.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range sessionPragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

// RunMigrations brings the schema (scan_history, certificates,
// observations) up to date from the embedded goose migrations.
func RunMigrations(conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
