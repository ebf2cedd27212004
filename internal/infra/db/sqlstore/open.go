package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Pool sizes the database/sql connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// ServerPool suits networked databases.
var ServerPool = Pool{MaxOpen: 25, MaxIdle: 10, MaxLifetime: 30 * time.Minute}

// Open dials driverName, checks the connection within 5s, applies the
// dialect schema and returns the repository. The handle is closed on any
// failure.
func Open(ctx context.Context, driverName, dsn string, d Dialect, p Pool) (*Repository, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}

	repo := New(db, d)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
