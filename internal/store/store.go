package store

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Open dials Postgres via lib/pq and configures the connection pool the
// way the teacher's postgres connector does: bounded max-open/max-idle
// and a connection lifetime ceiling so long-lived pools don't accumulate
// stale backends behind a load balancer.
func Open(dsn string, maxOpen, maxIdle int, connTTL time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connTTL)

	return db, nil
}
