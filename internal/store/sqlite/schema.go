package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are unix milliseconds so claim expiry compares numerically.
const schema = `
CREATE TABLE IF NOT EXISTS delivery_attempts (
    notification_id  TEXT    NOT NULL,
    recipient_id     TEXT    NOT NULL,
    channel          TEXT    NOT NULL,
    status           TEXT    NOT NULL CHECK (status IN ('PENDING', 'DELIVERED', 'FAILED')),
    attempts         INTEGER NOT NULL DEFAULT 0,
    last_attempt_at  INTEGER NOT NULL DEFAULT 0,
    claimed_by       TEXT    NOT NULL DEFAULT '',
    claim_expires_at INTEGER NOT NULL DEFAULT 0,
    last_error       TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (notification_id, recipient_id, channel)
);

CREATE TABLE IF NOT EXISTS notification_outcomes (
    notification_id TEXT    PRIMARY KEY,
    recipient_id    TEXT    NOT NULL,
    outcome         TEXT    NOT NULL,
    updated_at      INTEGER NOT NULL,
    removed_at      INTEGER
);

CREATE INDEX IF NOT EXISTS idx_notification_outcomes_pending
    ON notification_outcomes(outcome, updated_at) WHERE removed_at IS NULL;
`

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
