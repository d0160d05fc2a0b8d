// Package ledger defines the gateway to the external ledger that queues
// notifications awaiting delivery.
package ledger

import (
	"context"
	"errors"

	"github.com/lupppig/notifysender/internal/domain"
)

// ErrNotFound is returned by Remove when the ledger no longer holds the id.
var ErrNotFound = errors.New("notification not found on ledger")

// Filter bounds a fetch. A zero Limit means no limit.
type Filter struct {
	After string
	Limit int
}

type Gateway interface {
	// FetchPending returns a snapshot of the notifications currently queued.
	FetchPending(ctx context.Context, filter Filter) ([]domain.Notification, error)
	Remove(ctx context.Context, id string) error
}
