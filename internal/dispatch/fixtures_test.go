package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lupppig/notifysender/internal/channel"
	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/retry"
	"github.com/lupppig/notifysender/internal/store"
	"github.com/lupppig/notifysender/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mapDirectory serves endpoints from a map; errs overrides per recipient.
type mapDirectory struct {
	mu        sync.Mutex
	endpoints map[string][]domain.RecipientEndpoint
	errs      map[string]error
	lookups   map[string]int
}

func newDirectory() *mapDirectory {
	return &mapDirectory{
		endpoints: make(map[string][]domain.RecipientEndpoint),
		errs:      make(map[string]error),
		lookups:   make(map[string]int),
	}
}

func (d *mapDirectory) set(recipientID string, eps ...domain.RecipientEndpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints[recipientID] = eps
}

func (d *mapDirectory) Lookup(_ context.Context, recipientID string) ([]domain.RecipientEndpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups[recipientID]++
	if err := d.errs[recipientID]; err != nil {
		return nil, err
	}
	return d.endpoints[recipientID], nil
}

func push(addr string) domain.RecipientEndpoint {
	return domain.RecipientEndpoint{Channel: domain.ChannelPush, Address: addr, Enabled: true}
}

func email(addr string) domain.RecipientEndpoint {
	return domain.RecipientEndpoint{Channel: domain.ChannelEmail, Address: addr, Enabled: true}
}

// recordingSender counts sends per address and fails addresses listed in
// failing.
type recordingSender struct {
	mu      sync.Mutex
	sent    map[string]int
	failing map[string]bool
	delay   time.Duration
}

func newSender() *recordingSender {
	return &recordingSender{sent: make(map[string]int), failing: make(map[string]bool)}
}

func (s *recordingSender) Send(ctx context.Context, address string, _ domain.Payload) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[address]++
	if s.failing[address] {
		return fmt.Errorf("gateway rejected %s", address)
	}
	return nil
}

func (s *recordingSender) setFailing(address string, failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[address] = failing
}

func (s *recordingSender) count(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[address]
}

func (s *recordingSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		n += c
	}
	return n
}

// failingRecordStore fails every RecordResult call.
type failingRecordStore struct {
	store.Store
}

func (f failingRecordStore) RecordResult(context.Context, domain.DeliveryKey, store.Result) error {
	return errors.New("write timeout")
}

type harness struct {
	ledger    *ledger.Memory
	directory *mapDirectory
	pushes    *recordingSender
	emails    *recordingSender
	store     store.Store
	clock     *fakeClock
	cfg       Config
	retry     retry.Config
	// now and channels override clock and the default push and email
	// senders when set.
	now      func() time.Time
	channels channel.Registry
}

func newHarness() *harness {
	return &harness{
		ledger:    ledger.NewMemory(),
		directory: newDirectory(),
		pushes:    newSender(),
		emails:    newSender(),
		store:     memory.New(),
		clock:     newClock(),
		cfg: Config{
			Workers:     4,
			ClaimTTL:    time.Minute,
			SendTimeout: time.Second,
		},
		retry: retry.Config{
			MaxAttempts:       3,
			InitialBackoff:    time.Minute,
			MaxBackoff:        time.Hour,
			BackoffMultiplier: 2,
		},
	}
}

func (h *harness) dispatcher() *Dispatcher {
	channels := h.channels
	if channels == nil {
		channels = channel.Registry{
			domain.ChannelPush:  h.pushes,
			domain.ChannelEmail: h.emails,
		}
	}
	now := h.now
	if now == nil {
		now = h.clock.Now
	}
	return New(h.cfg, Deps{
		Ledger:    h.ledger,
		Directory: h.directory,
		Channels:  channels,
		State:     h.store,
		Outcomes:  h.store,
		Policy:    retry.NewPolicy(h.retry),
		Clock:     now,
	})
}

func (h *harness) notify(id, recipientID string) {
	h.ledger.Add(domain.Notification{
		ID:          id,
		RecipientID: recipientID,
		Payload:     domain.Payload{Title: "t-" + id, Body: "b-" + id},
	})
}
