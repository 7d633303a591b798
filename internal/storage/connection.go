// Package storage provides the PostgreSQL persistence layer: the connection
// pool, the job store, the dataset catalog, table provisioning, and the batch
// row writer.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// PostgreSQL driver, registered via database/sql.
	_ "github.com/lib/pq"
)

// healthCheckTimeout bounds the ping issued by HealthCheck.
const healthCheckTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is constructed with a
	// nil connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrConnectionFailed is returned when the database cannot be reached.
	ErrConnectionFailed = errors.New("database connection failed")
)

// Connection wraps *sql.DB with pool configuration applied. Stores share one
// Connection; ownership (and Close) stays with the caller that created it.
type Connection struct {
	db     *sql.DB
	logger *slog.Logger
}

// Connect opens a PostgreSQL connection pool from the given configuration and
// verifies connectivity with a ping.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	logger.Info("connected to database",
		slog.String("url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return &Connection{db: db, logger: logger}, nil
}

// DB exposes the underlying pool for components that need it directly, such
// as the migration runner.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// HealthCheck verifies the database is reachable. Used by readiness probes.
func (c *Connection) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// BeginTx starts a transaction on the pool.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// ExecContext executes a statement on the pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}
