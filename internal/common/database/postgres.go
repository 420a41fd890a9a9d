// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"practice-insights/internal/common/config"

	_ "github.com/lib/pq"
)

// schema holds the tables the bulk export writes and the planner reads.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS appointment_exports (
		run_id           TEXT        NOT NULL,
		appointment_id   TEXT        NOT NULL,
		patient_id       TEXT,
		patient_name     TEXT,
		provider_name    TEXT,
		appointment_type TEXT,
		location_name    TEXT,
		status           TEXT,
		rescheduled      BOOLEAN     NOT NULL DEFAULT false,
		start_time       TIMESTAMPTZ,
		exported_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (run_id, appointment_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointment_exports_start ON appointment_exports (start_time)`,
	`CREATE TABLE IF NOT EXISTS uploaded_documents (
		id          TEXT PRIMARY KEY,
		filename    TEXT NOT NULL,
		content     TEXT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// PostgresClient wraps the SQL database connection
type PostgresClient struct {
	DB *sql.DB
}

// NewPostgres creates a new PostgreSQL client
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Ping tests the database connection
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// EnsureSchema creates the export and document tables when missing.
func (c *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
