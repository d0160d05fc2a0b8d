package retry

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Backoff handles exponential backoff calculations with jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64
	// Floor is the smallest delay ever returned.
	Floor time.Duration
}

func newBackoff(cfg Config) *Backoff {
	return &Backoff{
		BaseDelay: cfg.InitialBackoff,
		MaxDelay:  cfg.MaxBackoff,
		Factor:    cfg.BackoffMultiplier,
		Jitter:    cfg.JitterFactor,
	}
}

// NextDelay returns the wait after the given zero-based failure count.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	return b.delay(attempt, rand.Float64())
}

// DelayFor is NextDelay with the jitter drawn from seed and attempt, so the
// same inputs always give the same delay.
func (b *Backoff) DelayFor(seed string, attempt int) time.Duration {
	h := fnv.New64a()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(attempt)))
	return b.delay(attempt, float64(h.Sum64()>>11)/(1<<53))
}

// delay computes the window for attempt with u in [0, 1) picking the jitter.
func (b *Backoff) delay(attempt int, u float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if b.BaseDelay <= 0 {
		return b.Floor
	}

	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(factor, float64(attempt))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay += (u * 2 * jitterRange) - jitterRange
	}

	if delay < float64(b.Floor) {
		delay = float64(b.Floor)
	}
	return time.Duration(delay)
}
