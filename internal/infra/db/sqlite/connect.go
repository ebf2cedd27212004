// Package sqlite runs the repository on an embedded database file.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:         "sqlite",
	InsertIgnore: "INSERT INTO",
	OnConflict:   " ON CONFLICT (id) DO NOTHING",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
  id               TEXT    PRIMARY KEY,
  state            TEXT    NOT NULL,
  attempt_id       TEXT    NOT NULL DEFAULT '',
  failure_reason   TEXT    NOT NULL DEFAULT '',
  overall_severity TEXT    NOT NULL DEFAULT '',
  degraded         INTEGER NOT NULL DEFAULT 0,
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL,
  started_at       INTEGER,
  completed_at     INTEGER
)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_state_started ON documents (state, started_at)`,
		`CREATE TABLE IF NOT EXISTS findings (
  document_id  TEXT    NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  ordinal      INTEGER NOT NULL,
  category     TEXT    NOT NULL,
  severity     TEXT    NOT NULL,
  matched_text TEXT    NOT NULL,
  explanation  TEXT    NOT NULL,
  source       TEXT    NOT NULL,
  PRIMARY KEY (document_id, ordinal)
)`,
		`CREATE TABLE IF NOT EXISTS attempts (
  seq           INTEGER PRIMARY KEY AUTOINCREMENT,
  id            TEXT    NOT NULL UNIQUE,
  document_id   TEXT    NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  state         TEXT    NOT NULL,
  error_message TEXT    NOT NULL DEFAULT '',
  started_at    INTEGER NOT NULL,
  finished_at   INTEGER
)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_document ON attempts (document_id, started_at)`,
	},
}

// Open creates the database file if needed, applies the schema and
// returns the repository.
func Open(ctx context.Context, path string) (*sqlstore.Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL with a single connection: writers queue on the pool instead of failing with SQLITE_BUSY
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	return sqlstore.Open(ctx, "sqlite", dsn, Dialect, sqlstore.Pool{MaxOpen: 1, MaxIdle: 1})
}
