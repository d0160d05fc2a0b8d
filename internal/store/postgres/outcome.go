package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

func (s *Store) SaveOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	query := `
		INSERT INTO notification_outcomes (notification_id, recipient_id, outcome, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (notification_id)
		DO UPDATE SET recipient_id = EXCLUDED.recipient_id, outcome = EXCLUDED.outcome, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.Pool.Exec(ctx, query, rec.NotificationID, rec.RecipientID, string(rec.Outcome), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", rec.NotificationID, err)
	}
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, outcome domain.Outcome, limit int) ([]domain.OutcomeRecord, error) {
	query := `
		SELECT notification_id, recipient_id, outcome, updated_at
		FROM notification_outcomes
		WHERE outcome = $1 AND removed_at IS NULL
		ORDER BY updated_at ASC, notification_id ASC
		LIMIT $2
	`
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.Pool.Query(ctx, query, string(outcome), limitArg)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var rec domain.OutcomeRecord
		if err := rows.Scan(&rec.NotificationID, &rec.RecipientID, &rec.Outcome, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

func (s *Store) MarkRemoved(ctx context.Context, notificationID string, at time.Time) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE notification_outcomes SET removed_at = $1 WHERE notification_id = $2`,
		at, notificationID,
	)
	if err != nil {
		return fmt.Errorf("mark removed %s: %w", notificationID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
