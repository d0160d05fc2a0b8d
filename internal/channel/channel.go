// Package channel delivers a notification payload to one recipient address
// over a single medium.
package channel

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/lupppig/notifysender/internal/domain"
)

// Sender delivers payload to address. A nil error means the provider
// accepted the message.
type Sender interface {
	Send(ctx context.Context, address string, payload domain.Payload) error
}

type SenderFunc func(ctx context.Context, address string, payload domain.Payload) error

func (f SenderFunc) Send(ctx context.Context, address string, payload domain.Payload) error {
	return f(ctx, address, payload)
}

// Error is a failed send on one channel. Send failures are transient: the
// key is retried by a later run.
type Error struct {
	Channel domain.ChannelKind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s send failed: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Registry maps each channel kind to its sender. Kinds without a sender are
// treated as not configured.
type Registry map[domain.ChannelKind]Sender

func (r Registry) Lookup(kind domain.ChannelKind) (Sender, bool) {
	s, ok := r[kind]
	return s, ok && s != nil
}

// Send delivers through the sender for kind and wraps any failure in *Error.
func (r Registry) Send(ctx context.Context, kind domain.ChannelKind, address string, payload domain.Payload) error {
	s, ok := r.Lookup(kind)
	if !ok {
		return &Error{Channel: kind, Err: fmt.Errorf("channel not configured")}
	}
	if err := s.Send(ctx, address, payload); err != nil {
		return &Error{Channel: kind, Err: err}
	}
	return nil
}

// Waiter is implemented by senders that throttle. Wait blocks until one send
// may go out.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Wait takes n send tokens for kind. Senders that do not throttle return at
// once.
func (r Registry) Wait(ctx context.Context, kind domain.ChannelKind, n int) error {
	s, ok := r.Lookup(kind)
	if !ok {
		return nil
	}
	w, ok := s.(Waiter)
	if !ok {
		return nil
	}
	for i := 0; i < n; i++ {
		if err := w.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}

type rateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

// RateLimited throttles next to perSecond sends with the given burst. Tokens
// are taken with Wait before Send, so that time spent queueing never counts
// against a send deadline.
func RateLimited(next Sender, perSecond float64, burst int) Sender {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *rateLimited) Send(ctx context.Context, address string, payload domain.Payload) error {
	return r.next.Send(ctx, address, payload)
}
