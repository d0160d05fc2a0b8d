// Package memory is an in-process state store. It is safe for concurrent use
// but offers no cross-process guarantees, so it only backs dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

type Store struct {
	mu       sync.Mutex
	records  map[domain.DeliveryKey]domain.DeliveryAttemptRecord
	outcomes map[string]domain.OutcomeRecord
}

func New() *Store {
	return &Store{
		records:  make(map[domain.DeliveryKey]domain.DeliveryAttemptRecord),
		outcomes: make(map[string]domain.OutcomeRecord),
	}
}

func (s *Store) Get(ctx context.Context, key domain.DeliveryKey) (*domain.DeliveryAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) TryClaim(ctx context.Context, key domain.DeliveryKey, claim store.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if ok {
		if rec.Status == domain.DeliveryStatusDelivered || rec.ClaimLive(claim.At) {
			return false, nil
		}
	} else {
		rec = domain.DeliveryAttemptRecord{Key: key}
	}

	rec.Status = domain.DeliveryStatusPending
	rec.Attempts++
	rec.LastAttemptAt = claim.At
	rec.ClaimedBy = claim.Owner
	rec.ClaimExpiresAt = claim.ExpiresAt()
	s.records[key] = rec
	return true, nil
}

func (s *Store) RecordResult(ctx context.Context, key domain.DeliveryKey, result store.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return store.ErrClaimLost
	}
	if rec.Status == domain.DeliveryStatusDelivered {
		if result.Delivered {
			return nil
		}
		return store.ErrClaimLost
	}
	if !result.Delivered && rec.ClaimedBy != result.Owner {
		return store.ErrClaimLost
	}

	rec.Status = result.Status()
	rec.LastError = result.Error
	rec.LastAttemptAt = result.At
	rec.ClaimedBy = ""
	rec.ClaimExpiresAt = time.Time{}
	s.records[key] = rec
	return nil
}

func (s *Store) SaveOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.outcomes[rec.NotificationID]; ok && prev.RemovedAt != nil && rec.RemovedAt == nil {
		rec.RemovedAt = prev.RemovedAt
	}
	s.outcomes[rec.NotificationID] = rec
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, outcome domain.Outcome, limit int) ([]domain.OutcomeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.OutcomeRecord
	for _, rec := range s.outcomes {
		if rec.Outcome == outcome && rec.RemovedAt == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].NotificationID < out[j].NotificationID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkRemoved(ctx context.Context, notificationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outcomes[notificationID]
	if !ok {
		return store.ErrNotFound
	}
	rec.RemovedAt = &at
	s.outcomes[notificationID] = rec
	return nil
}

func (s *Store) Close() error {
	return nil
}

var _ store.Store = (*Store)(nil)
