package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func report(outcomes map[string]domain.Outcome) *domain.DispatchReport {
	r := domain.NewDispatchReport("run_test", time.Now())
	for id, o := range outcomes {
		r.Results[id] = &domain.NotificationResult{NotificationID: id, RecipientID: "r", Outcome: o}
	}
	return r
}

func TestReconcileRemovesOnlyFullyDelivered(t *testing.T) {
	gw := ledger.NewMemory(
		domain.Notification{ID: "1"},
		domain.Notification{ID: "2"},
		domain.Notification{ID: "3"},
		domain.Notification{ID: "4"},
	)
	rec := New(Config{Workers: 2}, gw, nil, nil)

	out := rec.Reconcile(context.Background(), report(map[string]domain.Outcome{
		"1": domain.OutcomeFullyDelivered,
		"2": domain.OutcomePartiallyDelivered,
		"3": domain.OutcomeUndeliverable,
		"4": domain.OutcomePending,
	}))

	assert.Equal(t, []string{"1"}, out.Removed)
	assert.Len(t, out.Retained, 3)
	assert.Empty(t, out.Failed)
	assert.Equal(t, []string{"2", "3", "4"}, gw.Pending())
}

func TestReconcileAlreadyAbsentCountsAsRemoved(t *testing.T) {
	gw := ledger.NewMemory()
	rec := New(Config{}, gw, nil, nil)

	out := rec.Reconcile(context.Background(), report(map[string]domain.Outcome{"gone": domain.OutcomeFullyDelivered}))

	assert.Equal(t, []string{"gone"}, out.Removed)
	assert.Empty(t, out.Failed)
}

func TestReconcileReportsRemovalFailures(t *testing.T) {
	gw := ledger.NewMemory(domain.Notification{ID: "1"}, domain.Notification{ID: "2"})
	gw.RemoveErr["2"] = errors.New("canister rejected call")
	outcomes := memory.New()
	rec := New(Config{Workers: 4}, gw, outcomes, nil)

	out := rec.Reconcile(context.Background(), report(map[string]domain.Outcome{
		"1": domain.OutcomeFullyDelivered,
		"2": domain.OutcomeFullyDelivered,
	}))

	assert.Equal(t, []string{"1"}, out.Removed)
	require.Contains(t, out.Failed, "2")
	assert.Contains(t, out.Failed["2"], "canister rejected call")
	assert.Equal(t, []string{"2"}, gw.Pending())
}

func TestReconcileStored(t *testing.T) {
	ctx := context.Background()
	gw := ledger.NewMemory(domain.Notification{ID: "1"}, domain.Notification{ID: "2"}, domain.Notification{ID: "3"})
	outcomes := memory.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, o := range []domain.Outcome{domain.OutcomeFullyDelivered, domain.OutcomePending, domain.OutcomeFullyDelivered} {
		require.NoError(t, outcomes.SaveOutcome(ctx, domain.OutcomeRecord{
			NotificationID: []string{"1", "2", "3"}[i],
			RecipientID:    "r",
			Outcome:        o,
			UpdatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	rec := New(Config{}, gw, outcomes, nil)

	out, err := rec.ReconcileStored(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, out.Removed)
	assert.Equal(t, []string{"2"}, gw.Pending())

	// Removed outcomes are not reconciled again.
	out, err = rec.ReconcileStored(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Removed)
	assert.Len(t, gw.Removed(), 2)
}

func TestReconcileStoredNeedsOutcomeStore(t *testing.T) {
	_, err := New(Config{}, ledger.NewMemory(), nil, nil).ReconcileStored(context.Background())
	assert.Error(t, err)
}
