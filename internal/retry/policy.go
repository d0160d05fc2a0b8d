package retry

import (
	"time"

	"github.com/lupppig/notifysender/internal/domain"
)

// Policy decides whether a delivery key may be attempted in the current run.
type Policy struct {
	config  Config
	backoff *Backoff
}

func NewPolicy(cfg Config) *Policy {
	return &Policy{
		config:  cfg,
		backoff: newBackoff(cfg),
	}
}

// ShouldRetry reports whether a key with the given attempt count still has
// budget left. A MaxAttempts of zero or less means unlimited.
func (p *Policy) ShouldRetry(attempts int) bool {
	if p.config.MaxAttempts <= 0 {
		return true
	}
	return attempts < p.config.MaxAttempts
}

// Exhausted reports whether rec used up its attempt budget without being
// delivered. A PENDING record left behind by a run that never recorded its
// result counts the same as a FAILED one.
func (p *Policy) Exhausted(rec *domain.DeliveryAttemptRecord) bool {
	return rec != nil && rec.Status != domain.DeliveryStatusDelivered && !p.ShouldRetry(rec.Attempts)
}

// NextDelay returns the backoff window following the given attempt count.
func (p *Policy) NextDelay(attempts int) time.Duration {
	return p.backoff.NextDelay(attempts - 1)
}

// Eligible reports whether a failed record's backoff window has elapsed at now.
// Records that are not FAILED are always eligible as far as backoff goes; the
// store decides about live claims. The window's jitter is fixed per key and
// attempt count, so repeated checks agree.
func (p *Policy) Eligible(rec *domain.DeliveryAttemptRecord, now time.Time) bool {
	if rec == nil || rec.Status != domain.DeliveryStatusFailed || rec.Attempts == 0 {
		return true
	}
	return !now.Before(p.NextEligibleAt(rec))
}

// NextEligibleAt is when a failed record may next be attempted.
func (p *Policy) NextEligibleAt(rec *domain.DeliveryAttemptRecord) time.Time {
	return rec.LastAttemptAt.Add(p.backoff.DelayFor(rec.Key.String(), rec.Attempts-1))
}

// MaxAttempts returns the maximum configured attempts per key.
func (p *Policy) MaxAttempts() int {
	return p.config.MaxAttempts
}
