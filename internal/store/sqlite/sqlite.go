// Package sqlite implements the delivery state store on an embedded SQLite
// database. Claims rely on SQLite's conditional upsert, so a single database
// file can be shared by overlapping runs on the same host.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases
	// from being split across connections.
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key domain.DeliveryKey) (*domain.DeliveryAttemptRecord, error) {
	query := `
		SELECT status, attempts, last_attempt_at, claimed_by, claim_expires_at, last_error
		FROM delivery_attempts
		WHERE notification_id = ? AND recipient_id = ? AND channel = ?
	`
	rec := domain.DeliveryAttemptRecord{Key: key}
	var lastAttempt, claimExpires int64
	err := s.db.QueryRowContext(ctx, query, key.NotificationID, key.RecipientID, string(key.Channel)).Scan(
		&rec.Status,
		&rec.Attempts,
		&lastAttempt,
		&rec.ClaimedBy,
		&claimExpires,
		&rec.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery attempt %s: %w", key, err)
	}
	rec.LastAttemptAt = fromMillis(lastAttempt)
	rec.ClaimExpiresAt = fromMillis(claimExpires)
	return &rec, nil
}

func (s *Store) TryClaim(ctx context.Context, key domain.DeliveryKey, claim store.Claim) (bool, error) {
	query := `
		INSERT INTO delivery_attempts (notification_id, recipient_id, channel, status, attempts, last_attempt_at, claimed_by, claim_expires_at, last_error)
		VALUES (?, ?, ?, 'PENDING', 1, ?, ?, ?, '')
		ON CONFLICT (notification_id, recipient_id, channel) DO UPDATE SET
			status = 'PENDING',
			attempts = delivery_attempts.attempts + 1,
			last_attempt_at = excluded.last_attempt_at,
			claimed_by = excluded.claimed_by,
			claim_expires_at = excluded.claim_expires_at
		WHERE delivery_attempts.status = 'FAILED'
			OR (delivery_attempts.status = 'PENDING' AND delivery_attempts.claim_expires_at <= excluded.last_attempt_at)
	`
	res, err := s.db.ExecContext(ctx, query,
		key.NotificationID,
		key.RecipientID,
		string(key.Channel),
		toMillis(claim.At),
		claim.Owner,
		toMillis(claim.ExpiresAt()),
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery attempt %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim delivery attempt %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) RecordResult(ctx context.Context, key domain.DeliveryKey, result store.Result) error {
	status := string(result.Status())
	query := `
		UPDATE delivery_attempts
		SET status = ?, last_error = ?, last_attempt_at = ?, claimed_by = '', claim_expires_at = 0
		WHERE notification_id = ? AND recipient_id = ? AND channel = ?
			AND status <> 'DELIVERED'
			AND (? = 'DELIVERED' OR claimed_by = ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		status,
		result.Error,
		toMillis(result.At),
		key.NotificationID,
		key.RecipientID,
		string(key.Channel),
		status,
		result.Owner,
	)
	if err != nil {
		return fmt.Errorf("record delivery result %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record delivery result %s: %w", key, err)
	}
	if n == 1 {
		return nil
	}
	if result.Delivered {
		if rec, err := s.Get(ctx, key); err == nil && rec.Status == domain.DeliveryStatusDelivered {
			return nil
		}
	}
	return store.ErrClaimLost
}

func (s *Store) SaveOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	query := `
		INSERT INTO notification_outcomes (notification_id, recipient_id, outcome, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (notification_id) DO UPDATE SET
			recipient_id = excluded.recipient_id,
			outcome = excluded.outcome,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, rec.NotificationID, rec.RecipientID, string(rec.Outcome), toMillis(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", rec.NotificationID, err)
	}
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, outcome domain.Outcome, limit int) ([]domain.OutcomeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT notification_id, recipient_id, outcome, updated_at
		FROM notification_outcomes
		WHERE outcome = ? AND removed_at IS NULL
		ORDER BY updated_at ASC, notification_id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var rec domain.OutcomeRecord
		var updated int64
		if err := rows.Scan(&rec.NotificationID, &rec.RecipientID, &rec.Outcome, &updated); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.UpdatedAt = fromMillis(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MarkRemoved(ctx context.Context, notificationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_outcomes SET removed_at = ? WHERE notification_id = ?`,
		toMillis(at), notificationID,
	)
	if err != nil {
		return fmt.Errorf("mark removed %s: %w", notificationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

var _ store.Store = (*Store)(nil)
