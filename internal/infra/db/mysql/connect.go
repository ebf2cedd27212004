package mysql

import (
	"context"

	_ "github.com/go-sql-driver/mysql"

	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlstore"
)

// Open connects to MySQL and applies the InnoDB schema.
func Open(ctx context.Context, dsn string) (*sqlstore.Repository, error) {
	return sqlstore.Open(ctx, "mysql", dsn, Dialect, sqlstore.ServerPool)
}
