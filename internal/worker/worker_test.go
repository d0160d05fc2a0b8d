package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/goleak"

	"github.com/lupppig/notifysender/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu    sync.Mutex
	modes []runner.Mode
	err   error
}

func (f *fakeRunner) Run(_ context.Context, mode runner.Mode) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, mode)
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Result{Mode: mode}, nil
}

func (f *fakeRunner) count(mode runner.Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.modes {
		if m == mode {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerRunsBothSchedules(t *testing.T) {
	r := &fakeRunner{}
	w := NewWorker(r, Config{SendInterval: 10 * time.Millisecond, RemoveInterval: 15 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	waitFor(t, func() bool {
		return r.count(runner.SendNotifications) >= 2 && r.count(runner.RemoveNotifications) >= 2
	})
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}

func TestWorkerDisabledScheduleNeverFires(t *testing.T) {
	r := &fakeRunner{}
	w := NewWorker(r, Config{SendInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	waitFor(t, func() bool { return r.count(runner.SendNotifications) >= 3 })
	cancel()
	<-done

	if n := r.count(runner.RemoveNotifications); n != 0 {
		t.Fatalf("remove ran %d times with its schedule disabled", n)
	}
}

func TestWorkerTriggerAndMessages(t *testing.T) {
	r := &fakeRunner{err: errors.New("ledger down")}
	w := NewWorker(r, Config{})

	var mu sync.Mutex
	var failures int
	w.OnResult = func(_ *runner.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
		}
	}

	w.handleMsg(&nats.Msg{Data: []byte(`{"run_mode":"RemoveNotifications"}`)})
	w.handleMsg(&nats.Msg{Data: []byte(`not json`)})
	if !w.Trigger(runner.SendNotifications) {
		t.Fatal("trigger rejected with an empty queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	waitFor(t, func() bool {
		return r.count(runner.RemoveNotifications) == 1 && r.count(runner.SendNotifications) == 1
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Fatalf("expected 2 failed results, got %d", failures)
	}
}

func TestTriggerQueueFull(t *testing.T) {
	w := NewWorker(&fakeRunner{}, Config{})
	for i := 0; i < cap(w.triggers); i++ {
		if !w.Trigger(runner.SendNotifications) {
			t.Fatalf("trigger %d rejected", i)
		}
	}
	if w.Trigger(runner.SendNotifications) {
		t.Fatal("expected trigger to be rejected when the queue is full")
	}
}
