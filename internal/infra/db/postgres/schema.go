package postgres

import (
	"database/sql"

	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:          "postgres",
	Numbered:      true,
	InsertIgnore:  "INSERT INTO",
	OnConflict:    " ON CONFLICT (id) DO NOTHING",
	ReadIsolation: sql.LevelRepeatableRead,
	ReadOnly:      true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
  id               VARCHAR(64) PRIMARY KEY,
  state            VARCHAR(16) NOT NULL,
  attempt_id       VARCHAR(64) NOT NULL DEFAULT '',
  failure_reason   TEXT        NOT NULL DEFAULT '',
  overall_severity VARCHAR(8)  NOT NULL DEFAULT '',
  degraded         BOOLEAN     NOT NULL DEFAULT FALSE,
  created_at       BIGINT      NOT NULL,
  updated_at       BIGINT      NOT NULL,
  started_at       BIGINT,
  completed_at     BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_state_started ON documents (state, started_at)`,
		`CREATE TABLE IF NOT EXISTS findings (
  document_id  VARCHAR(64) NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  ordinal      INT         NOT NULL,
  category     VARCHAR(64) NOT NULL,
  severity     VARCHAR(8)  NOT NULL,
  matched_text TEXT        NOT NULL,
  explanation  TEXT        NOT NULL,
  source       VARCHAR(16) NOT NULL,
  PRIMARY KEY (document_id, ordinal)
)`,
		`CREATE TABLE IF NOT EXISTS attempts (
  seq           BIGSERIAL   PRIMARY KEY,
  id            VARCHAR(64) NOT NULL UNIQUE,
  document_id   VARCHAR(64) NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
  state         VARCHAR(16) NOT NULL,
  error_message TEXT        NOT NULL DEFAULT '',
  started_at    BIGINT      NOT NULL,
  finished_at   BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_document ON attempts (document_id, started_at)`,
	},
}
