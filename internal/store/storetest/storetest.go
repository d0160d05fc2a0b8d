// Package storetest holds the behavioural suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's concern.
type Factory func(t *testing.T) store.Store

// base is millisecond aligned so every backend round-trips it exactly.
var base = time.UnixMilli(1767268800000).UTC()

func key(n string, ch domain.ChannelKind) domain.DeliveryKey {
	return domain.DeliveryKey{NotificationID: n, RecipientID: "recipient-" + n, Channel: ch}
}

func claim(owner string, at time.Time) store.Claim {
	return store.Claim{Owner: owner, At: at, TTL: time.Minute}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), key("missing", domain.ChannelPush))
		assert.True(t, errors.Is(err, store.ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("ClaimAbsentKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n1", domain.ChannelPush)

		ok, err := s.TryClaim(ctx, k, claim("w1", base))
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusPending, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
		assert.Equal(t, "w1", rec.ClaimedBy)
		assert.True(t, rec.ClaimExpiresAt.Equal(base.Add(time.Minute)), "claim expiry %v", rec.ClaimExpiresAt)
	})

	t.Run("LiveClaimIsExclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n2", domain.ChannelEmail)

		ok, err := s.TryClaim(ctx, k, claim("w1", base))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryClaim(ctx, k, claim("w2", base.Add(30*time.Second)))
		require.NoError(t, err)
		assert.False(t, ok, "second claim inside TTL must fail")
	})

	t.Run("ExpiredClaimCanBeTakenOver", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n3", domain.ChannelPush)

		ok, err := s.TryClaim(ctx, k, claim("crashed", base))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryClaim(ctx, k, claim("w2", base.Add(2*time.Minute)))
		require.NoError(t, err)
		assert.True(t, ok, "expired claim must be reclaimable")

		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Attempts)
		assert.Equal(t, "w2", rec.ClaimedBy)
	})

	t.Run("DeliveredIsTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n4", domain.ChannelPush)

		ok, err := s.TryClaim(ctx, k, claim("w1", base))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.RecordResult(ctx, k, store.Result{Owner: "w1", Delivered: true, At: base.Add(time.Second)}))

		ok, err = s.TryClaim(ctx, k, claim("w2", base.Add(time.Hour)))
		require.NoError(t, err)
		assert.False(t, ok, "delivered key must never be claimed again")

		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusDelivered, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
		assert.Empty(t, rec.ClaimedBy)
	})

	t.Run("FailedKeyIsReclaimable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n5", domain.ChannelEmail)

		ok, err := s.TryClaim(ctx, k, claim("w1", base))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.RecordResult(ctx, k, store.Result{Owner: "w1", Error: "smtp 451", At: base.Add(time.Second)}))

		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusFailed, rec.Status)
		assert.Equal(t, "smtp 451", rec.LastError)

		ok, err = s.TryClaim(ctx, k, claim("w2", base.Add(2*time.Second)))
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err = s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Attempts, "attempts must be monotonic")
	})

	t.Run("FailureRequiresOwnership", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n6", domain.ChannelPush)

		ok, err := s.TryClaim(ctx, k, claim("w1", base))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = s.TryClaim(ctx, k, claim("w2", base.Add(5*time.Minute)))
		require.NoError(t, err)
		require.True(t, ok)

		err = s.RecordResult(ctx, k, store.Result{Owner: "w1", Error: "late", At: base.Add(6 * time.Minute)})
		assert.True(t, errors.Is(err, store.ErrClaimLost), "expected ErrClaimLost, got %v", err)

		// The send did happen, so a stale owner may still mark it delivered.
		require.NoError(t, s.RecordResult(ctx, k, store.Result{Owner: "w1", Delivered: true, At: base.Add(6 * time.Minute)}))
		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusDelivered, rec.Status)
	})

	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("n7", domain.ChannelPush)

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.TryClaim(ctx, k, claim(fmt.Sprintf("w%d", i), base))
				if err == nil && ok {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load(), "exactly one worker may win the claim")
	})

	t.Run("Outcomes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i, o := range []domain.Outcome{
			domain.OutcomeFullyDelivered,
			domain.OutcomePartiallyDelivered,
			domain.OutcomeFullyDelivered,
		} {
			require.NoError(t, s.SaveOutcome(ctx, domain.OutcomeRecord{
				NotificationID: fmt.Sprintf("o%d", i),
				RecipientID:    "r",
				Outcome:        o,
				UpdatedAt:      base.Add(time.Duration(i) * time.Second),
			}))
		}

		recs, err := s.ListOutcomes(ctx, domain.OutcomeFullyDelivered, 10)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "o0", recs[0].NotificationID)
		assert.Equal(t, "o2", recs[1].NotificationID)

		limited, err := s.ListOutcomes(ctx, domain.OutcomeFullyDelivered, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		require.NoError(t, s.MarkRemoved(ctx, "o0", base.Add(time.Minute)))
		recs, err = s.ListOutcomes(ctx, domain.OutcomeFullyDelivered, 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "o2", recs[0].NotificationID)

		// Re-saving a later outcome replaces the earlier one.
		require.NoError(t, s.SaveOutcome(ctx, domain.OutcomeRecord{
			NotificationID: "o1",
			RecipientID:    "r",
			Outcome:        domain.OutcomeFullyDelivered,
			UpdatedAt:      base.Add(time.Hour),
		}))
		recs, err = s.ListOutcomes(ctx, domain.OutcomePartiallyDelivered, 10)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}
