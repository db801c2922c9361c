package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stlehmann/qthmi.ads/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	return Connect(ctx, cfg.DSN(), cfg.MaxConnections)
}

// Connect opens a pool for dsn and verifies the connection.
func Connect(ctx context.Context, dsn string, maxConns int) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS screens (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	screen_id   TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	definition  JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id                    UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username              TEXT NOT NULL UNIQUE,
	password_hash         TEXT NOT NULL,
	role                  TEXT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login_at         TIMESTAMPTZ,
	failed_login_attempts INT NOT NULL DEFAULT 0,
	locked_until          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS auth_events (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT NOT NULL,
	user_id     UUID REFERENCES users(id) ON DELETE SET NULL,
	ip_address  TEXT,
	user_agent  TEXT,
	success     BOOLEAN NOT NULL,
	reason      TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
