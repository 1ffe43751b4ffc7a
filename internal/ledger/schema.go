// Package ledger provides a SQLite-backed audit trail of prerender runs and
// page renders. It is never consulted for staleness decisions.
package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	locale      TEXT     NOT NULL DEFAULT '',
	force       INTEGER  NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	pages       INTEGER  NOT NULL DEFAULT 0,
	rendered    INTEGER  NOT NULL DEFAULT 0,
	skipped     INTEGER  NOT NULL DEFAULT 0,
	failed      INTEGER  NOT NULL DEFAULT 0,
	status      TEXT     NOT NULL DEFAULT 'running',
	error       TEXT     NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS renders (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER  NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path        TEXT     NOT NULL,
	locale      TEXT     NOT NULL DEFAULT '',
	checksum    TEXT     NOT NULL DEFAULT '',
	bytes       INTEGER  NOT NULL DEFAULT 0,
	duration_ms INTEGER  NOT NULL DEFAULT 0,
	status      TEXT     NOT NULL,
	error       TEXT     NOT NULL DEFAULT '',
	rendered_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_renders_path ON renders(path, locale);
CREATE INDEX IF NOT EXISTS idx_renders_run ON renders(run_id);
`

// DB wraps a sql.DB with ledger-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
