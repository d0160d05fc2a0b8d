package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS delivery_attempts (
			notification_id  TEXT        NOT NULL,
			recipient_id     TEXT        NOT NULL,
			channel          TEXT        NOT NULL,
			status           TEXT        NOT NULL CHECK (status IN ('PENDING', 'DELIVERED', 'FAILED')),
			attempts         INT         NOT NULL DEFAULT 0,
			last_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			claimed_by       TEXT        NOT NULL DEFAULT '',
			claim_expires_at TIMESTAMPTZ,
			last_error       TEXT        NOT NULL DEFAULT '',
			PRIMARY KEY (notification_id, recipient_id, channel)
		);

		CREATE TABLE IF NOT EXISTS notification_outcomes (
			notification_id TEXT PRIMARY KEY,
			recipient_id    TEXT        NOT NULL,
			outcome         TEXT        NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			removed_at      TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS recipient_endpoints (
			recipient_id TEXT    NOT NULL,
			channel      TEXT    NOT NULL CHECK (channel IN ('push', 'email')),
			address      TEXT    NOT NULL,
			enabled      BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (recipient_id, channel, address)
		);

		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_status ON delivery_attempts(status);
		CREATE INDEX IF NOT EXISTS idx_notification_outcomes_pending
			ON notification_outcomes(outcome, updated_at) WHERE removed_at IS NULL;
	`

	_, err := db.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
