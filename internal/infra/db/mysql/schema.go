package mysql

import (
	"database/sql"

	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlstore"
)

// Dialect for MySQL 8. Reads run at REPEATABLE READ so a result and its
// findings come from one snapshot.
var Dialect = sqlstore.Dialect{
	Name:          "mysql",
	InsertIgnore:  "INSERT IGNORE INTO",
	ReadIsolation: sql.LevelRepeatableRead,
	ReadOnly:      true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
  id               VARCHAR(64)  NOT NULL PRIMARY KEY,
  state            VARCHAR(16)  NOT NULL,
  attempt_id       VARCHAR(64)  NOT NULL DEFAULT '',
  failure_reason   TEXT         NOT NULL,
  overall_severity VARCHAR(8)   NOT NULL DEFAULT '',
  degraded         BOOLEAN      NOT NULL DEFAULT FALSE,
  created_at       BIGINT       NOT NULL,
  updated_at       BIGINT       NOT NULL,
  started_at       BIGINT       NULL,
  completed_at     BIGINT       NULL,
  KEY idx_documents_created (created_at),
  KEY idx_documents_state_started (state, started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS findings (
  document_id  VARCHAR(64) NOT NULL,
  ordinal      INT         NOT NULL,
  category     VARCHAR(64) NOT NULL,
  severity     VARCHAR(8)  NOT NULL,
  matched_text TEXT        NOT NULL,
  explanation  TEXT        NOT NULL,
  source       VARCHAR(16) NOT NULL,
  PRIMARY KEY (document_id, ordinal),
  CONSTRAINT fk_findings_document FOREIGN KEY (document_id) REFERENCES documents (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS attempts (
  seq           BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
  id            VARCHAR(64) NOT NULL,
  document_id   VARCHAR(64) NOT NULL,
  state         VARCHAR(16) NOT NULL,
  error_message TEXT        NOT NULL,
  started_at    BIGINT      NOT NULL,
  finished_at   BIGINT      NULL,
  UNIQUE KEY uq_attempts_id (id),
  KEY idx_attempts_document (document_id, started_at),
  CONSTRAINT fk_attempts_document FOREIGN KEY (document_id) REFERENCES documents (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}
