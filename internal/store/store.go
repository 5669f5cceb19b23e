// Package store persists commit envelopes, their changes, named refs,
// repository config, and ancillary objects in a single SQLite file.
// There is one writer per store; readers see consistent snapshots
// under SQLite's transaction semantics.
package store

import (
	"context"
	"database/sql"
	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/WildMix/Scribe/internal/scriberr"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is the config(key='schema_version') value this
// build reads and writes. Unknown versions are rejected on open.
const currentSchemaVersion = "1"

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at path and applies the schema.
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout
//   - foreign key enforcement
//
// SQLite supports one writer at a time, so the pool is capped at a
// single connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "open database %s", path)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, scriberr.Wrap(scriberr.KindDB, err, "connect to database %s", path)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "close database")
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return scriberr.Wrap(scriberr.KindDB, err, "execute %q", pragma)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "apply schema")
	}
	return nil
}

func checkSchemaVersion(db *sql.DB) error {
	var version string
	err := db.QueryRow(`SELECT value FROM config WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		return scriberr.Wrap(scriberr.KindRepoCorrupt, err, "read schema version")
	}
	if version != currentSchemaVersion {
		return scriberr.New(scriberr.KindRepoCorrupt,
			"unsupported schema version %q (this build reads version %s)", version, currentSchemaVersion)
	}
	return nil
}

// Tx is an open transaction over the store. Writes within it are
// atomic relative to readers. Nested transactions are not supported.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, scriberr.Wrap(scriberr.KindDB, err, "begin transaction")
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "commit transaction")
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return scriberr.Wrap(scriberr.KindDB, err, "rollback transaction")
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx so every operation can run
// either standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// defaultHistoryLimit bounds GetHistory when the caller passes 0.
const defaultHistoryLimit = 100
