// Package storage implements the PostgreSQL reference data store, an in-memory
// fixture store, and the artifact stores validation output is persisted to.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is created without a connection.
	ErrNoDatabaseConnection = errors.New("no database connection")
	// ErrConnectFailed is returned when the database cannot be opened or reached.
	ErrConnectFailed = errors.New("failed to connect to database")
)

// Connection wraps the PostgreSQL connection pool shared by the stores.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pool with the configured limits and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, cfg.MaskDatabaseURL(), err)
	}

	return &Connection{DB: db}, nil
}

// HealthCheck pings the database with a short timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return c.PingContext(ctx)
}

// isDatabaseConnectionError reports whether err is a PostgreSQL connection exception
// (SQLSTATE class 08) or a closed or bad connection.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
