// Package database manages the PostgreSQL connection pool and schema
// migrations for warden's time-series store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/wardenlabs/warden/pkg/config"
)

// pingTimeout bounds the initial connectivity check.
const pingTimeout = 5 * time.Second

// Client wraps the shared *sql.DB handle. All SQL in warden goes through
// the pgx stdlib driver so the pool, metrics store, and migrations share
// one set of connections.
type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewClient opens the connection pool, verifies connectivity, and brings
// the schema up to date. The returned client is ready for queries.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	client := &Client{
		db:     db,
		logger: slog.Default().With("component", "database"),
	}

	if err := client.runMigrations(cfg.DBName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	client.logger.Info("Database ready",
		"host", cfg.Host,
		"database", cfg.DBName,
		"max_open_conns", cfg.MaxOpenConns)

	return client, nil
}

// NewClientFromDB wraps an already-open handle and brings the schema up
// to date. Callers keep ownership of the handle's configuration; tests
// use this to point migrations at isolated schemas.
func NewClientFromDB(db *sql.DB, dbName string) (*Client, error) {
	client := &Client{
		db:     db,
		logger: slog.Default().With("component", "database"),
	}
	if err := client.runMigrations(dbName); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return client, nil
}

// DB exposes the underlying pool for stores built on raw SQL.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// HealthStatus reports connectivity and connection pool statistics.
type HealthStatus struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and returns pool statistics.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()

	if err := c.db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := c.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		MaxOpenConns:    stats.MaxOpenConnections,
	}, nil
}
