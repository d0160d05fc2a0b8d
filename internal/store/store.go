package store

import (
	"context"
	"errors"
	"time"

	"github.com/lupppig/notifysender/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrClaimLost = errors.New("claim no longer held")
)

// Claim reserves a delivery key for a single in-flight attempt.
type Claim struct {
	Owner string
	At    time.Time
	TTL   time.Duration
}

func (c Claim) ExpiresAt() time.Time {
	return c.At.Add(c.TTL)
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Owner     string
	Delivered bool
	Error     string
	At        time.Time
}

func (r Result) Status() domain.DeliveryStatus {
	if r.Delivered {
		return domain.DeliveryStatusDelivered
	}
	return domain.DeliveryStatusFailed
}

// StateStore is the serialization point for delivery attempts.
//
// TryClaim atomically moves a key that is absent, FAILED, or PENDING with an
// expired claim into PENDING owned by the caller, incrementing its attempt
// count. It returns false when the key is DELIVERED or held by a live claim.
//
// RecordResult marks the key DELIVERED unconditionally. A failure is only
// recorded while the caller still owns the claim; otherwise ErrClaimLost.
type StateStore interface {
	Get(ctx context.Context, key domain.DeliveryKey) (*domain.DeliveryAttemptRecord, error)
	TryClaim(ctx context.Context, key domain.DeliveryKey, claim Claim) (bool, error)
	RecordResult(ctx context.Context, key domain.DeliveryKey, result Result) error
}

// OutcomeStore persists per-notification outcomes for later reconciliation.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, rec domain.OutcomeRecord) error
	// ListOutcomes returns records with the given outcome that have not been
	// removed from the ledger yet, oldest first.
	ListOutcomes(ctx context.Context, outcome domain.Outcome, limit int) ([]domain.OutcomeRecord, error)
	MarkRemoved(ctx context.Context, notificationID string, at time.Time) error
}

type Store interface {
	StateStore
	OutcomeStore
	Close() error
}
