package retry

import (
	"strconv"
	"testing"
	"time"

	"github.com/lupppig/notifysender/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxAttempts != 10 {
		t.Errorf("expected MaxAttempts 10, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 1*time.Minute {
		t.Errorf("expected InitialBackoff 1m, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 6*time.Hour {
		t.Errorf("expected MaxBackoff 6h, got %v", cfg.MaxBackoff)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("expected BackoffMultiplier 2.0, got %f", cfg.BackoffMultiplier)
	}
}

func TestShouldRetry(t *testing.T) {
	policy := NewPolicy(Config{MaxAttempts: 5})

	tests := []struct {
		attempts    int
		shouldRetry bool
	}{
		{0, true},
		{1, true},
		{4, true},
		{5, false}, // budget used up
		{6, false},
		{10, false},
	}

	for _, tt := range tests {
		if got := policy.ShouldRetry(tt.attempts); got != tt.shouldRetry {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempts, got, tt.shouldRetry)
		}
	}
}

func TestUnlimitedAttempts(t *testing.T) {
	policy := NewPolicy(Config{MaxAttempts: 0})
	if !policy.ShouldRetry(1000) {
		t.Error("expected unlimited retries when MaxAttempts is 0")
	}
}

func TestExponentialBackoff(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 2.0,
	})

	// After the first failure the window is the initial backoff.
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}

	for i, want := range expected {
		attempts := i + 1
		if got := policy.NextDelay(attempts); got != want {
			t.Errorf("NextDelay(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:       10,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	})

	if delay := policy.NextDelay(5); delay != 10*time.Second {
		t.Errorf("expected delay capped at 10s, got %v", delay)
	}
	if delay := policy.NextDelay(30); delay != 10*time.Second {
		t.Errorf("expected delay capped at 10s for high attempt, got %v", delay)
	}
}

func TestJitterApplied(t *testing.T) {
	b := &Backoff{BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2, Jitter: 0.2}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		delays[b.NextDelay(0)] = true
	}

	if len(delays) < 2 {
		t.Error("expected jitter to produce varying delays, but got uniform delays")
	}
	for delay := range delays {
		if delay < 800*time.Millisecond || delay > 1200*time.Millisecond {
			t.Errorf("delay %v outside expected jitter range (800ms-1200ms)", delay)
		}
	}
}

func TestFloorEnforced(t *testing.T) {
	b := &Backoff{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Minute, Factor: 2, Jitter: 0.5, Floor: 100 * time.Millisecond}
	for i := 0; i < 100; i++ {
		if delay := b.NextDelay(0); delay < 100*time.Millisecond {
			t.Errorf("delay %v below floor 100ms", delay)
		}
	}
}

func TestEligible(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	})
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusFailed, Attempts: 2, LastAttemptAt: last}

	if policy.Eligible(rec, last.Add(time.Minute)) {
		t.Error("expected record inside its 2m window to be ineligible")
	}
	if !policy.Eligible(rec, last.Add(2*time.Minute)) {
		t.Error("expected record to be eligible once the window elapsed")
	}
	if !policy.Eligible(nil, last) {
		t.Error("expected absent record to be eligible")
	}
	if !policy.Eligible(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusPending, Attempts: 1, LastAttemptAt: last}, last) {
		t.Error("expected pending record to be left to the store")
	}
}

func TestExhausted(t *testing.T) {
	policy := NewPolicy(Config{MaxAttempts: 3})

	if policy.Exhausted(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusFailed, Attempts: 2}) {
		t.Error("2 of 3 attempts should not be exhausted")
	}
	if !policy.Exhausted(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusFailed, Attempts: 3}) {
		t.Error("3 of 3 failed attempts should be exhausted")
	}
	if policy.Exhausted(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusDelivered, Attempts: 3}) {
		t.Error("delivered record is never exhausted")
	}
	if !policy.Exhausted(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusPending, Attempts: 3, ClaimedBy: "gone"}) {
		t.Error("abandoned claim at 3 of 3 attempts should be exhausted")
	}
	if policy.Exhausted(&domain.DeliveryAttemptRecord{Status: domain.DeliveryStatusPending, Attempts: 2}) {
		t.Error("pending record with budget left should not be exhausted")
	}
}

func TestEligibleIsStableUnderJitter(t *testing.T) {
	policy := NewPolicy(Config{
		MaxAttempts:       5,
		InitialBackoff:    time.Minute,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.5,
	})
	last := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := &domain.DeliveryAttemptRecord{
		Key:           domain.DeliveryKey{NotificationID: "n1", RecipientID: "r1", Channel: domain.ChannelPush},
		Status:        domain.DeliveryStatusFailed,
		Attempts:      2,
		LastAttemptAt: last,
	}

	at := policy.NextEligibleAt(rec)
	if at.Before(last.Add(time.Minute)) || at.After(last.Add(3*time.Minute)) {
		t.Fatalf("next eligible %v outside the jittered 2m window", at.Sub(last))
	}
	for i := 0; i < 100; i++ {
		if got := policy.NextEligibleAt(rec); !got.Equal(at) {
			t.Fatalf("next eligible moved from %v to %v", at, got)
		}
		if policy.Eligible(rec, at.Add(-time.Nanosecond)) {
			t.Fatal("eligible before the window closed")
		}
		if !policy.Eligible(rec, at) {
			t.Fatal("ineligible once the window closed")
		}
	}
}

func TestDelayForSpreadsKeys(t *testing.T) {
	b := &Backoff{BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2, Jitter: 0.2}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		d := b.DelayFor("n"+strconv.Itoa(i)+"/r/push", 0)
		if d != b.DelayFor("n"+strconv.Itoa(i)+"/r/push", 0) {
			t.Fatalf("delay for key %d not repeatable", i)
		}
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Errorf("delay %v outside expected jitter range (800ms-1200ms)", d)
		}
		delays[d] = true
	}
	if len(delays) < 2 {
		t.Error("expected different keys to get different jitter")
	}
}

func BenchmarkNextDelay(b *testing.B) {
	policy := NewPolicy(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		policy.NextDelay(i % 5)
	}
}
