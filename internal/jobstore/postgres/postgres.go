// Package postgres implements the Job Store on PostgreSQL via pgx/pgxpool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool shared across all jobs.
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool sized per cfg. poolSize caps
// MaxConns; maxOverflow is added on top as headroom for short transactional
// bursts during UpdateJob, matching spec.md §4.1's "connection pooling is
// mandatory; pool size is a configuration knob."
func New(ctx context.Context, databaseURL string, poolSize, maxOverflow int32) (*DB, error) {
	pgCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if poolSize > 0 {
		pgCfg.MaxConns = poolSize + maxOverflow
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Schema is the DDL the Job Store depends on. It is exposed so the
// entrypoint (or a migration tool) can apply it; the package itself never
// runs DDL implicitly.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id               TEXT PRIMARY KEY,
	correlation_id       TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL,
	tenant_id            TEXT NOT NULL,
	status               TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	completed_at         TIMESTAMPTZ,
	duration_ms          BIGINT NOT NULL DEFAULT 0,
	documents_stored     INT NOT NULL DEFAULT 0,
	chunks_created       INT NOT NULL DEFAULT 0,
	embeddings_generated INT NOT NULL DEFAULT 0,
	error_message        TEXT NOT NULL DEFAULT '',
	stages_completed     JSONB NOT NULL DEFAULT '[]',
	source_params        JSONB NOT NULL DEFAULT '{}',
	metadata             JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_jobs_correlation_id ON jobs (correlation_id);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_status ON jobs (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant_created ON jobs (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at DESC);
`
