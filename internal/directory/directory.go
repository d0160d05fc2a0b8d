// Package directory resolves a recipient to the delivery endpoints stored for
// it.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/lupppig/notifysender/internal/domain"
)

// ErrUnavailable marks a directory backend that cannot be reached at all, as
// opposed to a failure specific to one recipient. Dispatch aborts on it.
var ErrUnavailable = errors.New("recipient directory unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Directory returns every stored endpoint of a recipient, enabled or not. An
// unknown recipient has no endpoints and is not an error.
type Directory interface {
	Lookup(ctx context.Context, recipientID string) ([]domain.RecipientEndpoint, error)
}
