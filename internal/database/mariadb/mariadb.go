// Package mariadb reads identity eligibility from the HR system's MariaDB database.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// HR lookups sit on the login path, so the pool is small and every
// connection attempt and read is bounded.
const (
	maxOpenConns    = 5
	maxIdleConns    = 2
	connMaxLifetime = 30 * time.Minute
	dialTimeout     = 5 * time.Second
	readTimeout     = 5 * time.Second
)

// Pool is a read-only connection pool to the HR database.
type Pool struct {
	db *sql.DB
}

// NewPool parses dsn, fills in timeouts it leaves unset and verifies the
// database is reachable.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("HR database DSN is required")
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid HR database DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = dialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = readTimeout
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create HR database connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 2*dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("HR database at %s unreachable: %w", cfg.Addr, err)
	}

	return &Pool{db: db}, nil
}

// Close closes the pool.
func (p *Pool) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close HR database: %w", err)
	}
	return nil
}
