package postgres

import (
	"context"

	_ "github.com/lib/pq"

	"github.com/bryanwahyu/contract-risk/internal/infra/db/sqlstore"
)

func Open(ctx context.Context, dsn string) (*sqlstore.Repository, error) {
	return sqlstore.Open(ctx, "postgres", dsn, Dialect, sqlstore.ServerPool)
}
