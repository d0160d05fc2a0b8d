// Package worker runs send and remove passes on a schedule for the
// long-running serve mode, and accepts run triggers published over NATS.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/runner"
)

const TriggerSubject = "notifications.runs"

type Runner interface {
	Run(ctx context.Context, mode runner.Mode) (*runner.Result, error)
}

type Config struct {
	// SendInterval and RemoveInterval are independent; zero disables one.
	SendInterval   time.Duration
	RemoveInterval time.Duration
}

// Worker serializes every run it starts, so a scheduled pass and a
// triggered pass never overlap inside one process.
type Worker struct {
	runner   Runner
	cfg      Config
	triggers chan runner.Mode
	sub      *nats.Subscription

	// OnResult, when set, observes each finished run.
	OnResult func(*runner.Result, error)
}

func NewWorker(r Runner, cfg Config) *Worker {
	return &Worker{
		runner:   r,
		cfg:      cfg,
		triggers: make(chan runner.Mode, 4),
	}
}

// Trigger queues a run. It reports false when the queue is full.
func (w *Worker) Trigger(mode runner.Mode) bool {
	select {
	case w.triggers <- mode:
		return true
	default:
		return false
	}
}

// Subscribe queues a run for every runner.Request published on subject.
func (w *Worker) Subscribe(nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, w.handleMsg)
	if err != nil {
		return err
	}
	w.sub = sub
	slog.Info("worker subscribed to run triggers", slog.String("subject", subject))
	return nil
}

func (w *Worker) handleMsg(m *nats.Msg) {
	var req runner.Request
	if err := json.Unmarshal(m.Data, &req); err != nil {
		slog.Warn("ignoring malformed run trigger",
			slog.String("code", "BROKER_ERROR"),
			slog.Any("error", err),
		)
		return
	}
	if !w.Trigger(req.RunMode) {
		slog.Warn("run trigger dropped, queue full",
			slog.String("code", "BROKER_ERROR"),
			slog.String("mode", req.RunMode.String()),
		)
	}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	defer func() {
		if w.sub != nil {
			_ = w.sub.Unsubscribe()
		}
	}()

	var sendC, removeC <-chan time.Time
	if w.cfg.SendInterval > 0 {
		t := time.NewTicker(w.cfg.SendInterval)
		defer t.Stop()
		sendC = t.C
	}
	if w.cfg.RemoveInterval > 0 {
		t := time.NewTicker(w.cfg.RemoveInterval)
		defer t.Stop()
		removeC = t.C
	}

	slog.Info("worker started",
		slog.String("code", "SYS_STARTUP"),
		slog.Duration("send_interval", w.cfg.SendInterval),
		slog.Duration("remove_interval", w.cfg.RemoveInterval),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sendC:
			w.run(ctx, runner.SendNotifications)
		case <-removeC:
			w.run(ctx, runner.RemoveNotifications)
		case mode := <-w.triggers:
			w.run(ctx, mode)
		}
	}
}

func (w *Worker) run(ctx context.Context, mode runner.Mode) {
	res, err := w.runner.Run(ctx, mode)
	if err != nil {
		logging.FromContext(ctx).Error("scheduled run failed",
			slog.String("code", "RUN_FAILED"),
			slog.String("mode", mode.String()),
			slog.Any("error", err),
		)
	}
	if w.OnResult != nil {
		w.OnResult(res, err)
	}
}
