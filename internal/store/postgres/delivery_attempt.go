package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

// Store implements store.Store on Postgres. Claims are a single conditional
// upsert, so concurrent processes sharing the database serialize on the row.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, key domain.DeliveryKey) (*domain.DeliveryAttemptRecord, error) {
	query := `
		SELECT status, attempts, last_attempt_at, claimed_by, claim_expires_at, last_error
		FROM delivery_attempts
		WHERE notification_id = $1 AND recipient_id = $2 AND channel = $3
	`
	rec := domain.DeliveryAttemptRecord{Key: key}
	var claimExpires *time.Time
	err := s.db.Pool.QueryRow(ctx, query, key.NotificationID, key.RecipientID, string(key.Channel)).Scan(
		&rec.Status,
		&rec.Attempts,
		&rec.LastAttemptAt,
		&rec.ClaimedBy,
		&claimExpires,
		&rec.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery attempt %s: %w", key, err)
	}
	if claimExpires != nil {
		rec.ClaimExpiresAt = *claimExpires
	}
	return &rec, nil
}

func (s *Store) TryClaim(ctx context.Context, key domain.DeliveryKey, claim store.Claim) (bool, error) {
	query := `
		INSERT INTO delivery_attempts (notification_id, recipient_id, channel, status, attempts, last_attempt_at, claimed_by, claim_expires_at)
		VALUES ($1, $2, $3, 'PENDING', 1, $4, $5, $6)
		ON CONFLICT (notification_id, recipient_id, channel) DO UPDATE SET
			status = 'PENDING',
			attempts = delivery_attempts.attempts + 1,
			last_attempt_at = EXCLUDED.last_attempt_at,
			claimed_by = EXCLUDED.claimed_by,
			claim_expires_at = EXCLUDED.claim_expires_at
		WHERE delivery_attempts.status = 'FAILED'
			OR (delivery_attempts.status = 'PENDING' AND delivery_attempts.claim_expires_at <= EXCLUDED.last_attempt_at)
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		key.NotificationID,
		key.RecipientID,
		string(key.Channel),
		claim.At,
		claim.Owner,
		claim.ExpiresAt(),
	)
	if err != nil {
		return false, fmt.Errorf("claim delivery attempt %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RecordResult(ctx context.Context, key domain.DeliveryKey, result store.Result) error {
	query := `
		UPDATE delivery_attempts
		SET status = $4, last_error = $5, last_attempt_at = $6, claimed_by = '', claim_expires_at = NULL
		WHERE notification_id = $1 AND recipient_id = $2 AND channel = $3
			AND status <> 'DELIVERED'
			AND ($4 = 'DELIVERED' OR claimed_by = $7)
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		key.NotificationID,
		key.RecipientID,
		string(key.Channel),
		string(result.Status()),
		result.Error,
		result.At,
		result.Owner,
	)
	if err != nil {
		return fmt.Errorf("record delivery result %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if result.Delivered {
		if rec, err := s.Get(ctx, key); err == nil && rec.Status == domain.DeliveryStatusDelivered {
			return nil
		}
	}
	return store.ErrClaimLost
}

var _ store.Store = (*Store)(nil)
