package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS embedding_cache (
		cache_key TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		dimension INT NOT NULL,
		embedding REAL[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS embed_calls (
		call_id UUID PRIMARY KEY,
		run_id TEXT,
		session_id TEXT,
		provider_name TEXT NOT NULL,
		model TEXT,
		input_count INT NOT NULL,
		status TEXT NOT NULL,
		error_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS analysis_runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		columns JSONB NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		row_count INT NOT NULL,
		group_count INT NOT NULL DEFAULT 0,
		provider TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_runs_session ON analysis_runs (session_id, created_at DESC)`,
}

// Migrate creates the tables the service needs if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := d.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}
