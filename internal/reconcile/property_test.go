package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/ledger"
)

var allOutcomes = []domain.Outcome{
	domain.OutcomeFullyDelivered,
	domain.OutcomePartiallyDelivered,
	domain.OutcomeUndeliverable,
	domain.OutcomePending,
}

// TestRemovalSafety checks that only FULLY_DELIVERED notifications ever leave
// the ledger.
// Property: removed(id) => outcome(id) == FULLY_DELIVERED
func TestRemovalSafety(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no removal call for any other outcome", prop.ForAll(
		func(picks []int) bool {
			gw := ledger.NewMemory()
			outcomes := make(map[string]domain.Outcome)
			for i, p := range picks {
				id := fmt.Sprintf("%d", i)
				gw.Add(domain.Notification{ID: id})
				outcomes[id] = allOutcomes[p]
			}

			out := New(Config{Workers: 3}, gw, nil, nil).Reconcile(context.Background(), report(outcomes))

			for _, id := range gw.Removed() {
				if outcomes[id] != domain.OutcomeFullyDelivered {
					return false
				}
			}
			for id, o := range outcomes {
				if o == domain.OutcomeFullyDelivered && !contains(out.Removed, id) {
					return false
				}
			}
			return len(out.Removed)+len(out.Retained) == len(outcomes)
		},
		gen.SliceOf(gen.IntRange(0, len(allOutcomes)-1)),
	))

	properties.TestingRun(t)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
