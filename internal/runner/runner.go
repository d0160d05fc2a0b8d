// Package runner is the single entry point that maps a run mode onto the
// dispatcher and reconciler.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/security"
)

type Dispatcher interface {
	Dispatch(ctx context.Context) (*domain.DispatchReport, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, report *domain.DispatchReport) *domain.RemovalReport
	ReconcileStored(ctx context.Context) (*domain.RemovalReport, error)
}

type Result struct {
	RunID    string                 `json:"run_id"`
	Mode     Mode                   `json:"mode"`
	Dispatch *domain.DispatchReport `json:"dispatch,omitempty"`
	Removal  *domain.RemovalReport  `json:"removal,omitempty"`
	Duration time.Duration          `json:"duration"`
}

type Runner struct {
	dispatcher Dispatcher
	reconciler Reconciler
}

func New(d Dispatcher, r Reconciler) *Runner {
	return &Runner{dispatcher: d, reconciler: r}
}

// Run executes one run. SendNotifications dispatches and then reconciles the
// fresh report; RemoveNotifications reconciles previously stored outcomes.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Result, error) {
	runID := logging.RunID(ctx)
	if runID == "" {
		id, err := security.NewRunID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
		ctx = logging.WithRun(ctx, runID, mode.String())
	}

	log := logging.FromContext(ctx)
	start := time.Now()
	res := &Result{RunID: runID, Mode: mode}
	log.Info("run started", slog.String("code", "RUN_START"))

	switch mode {
	case SendNotifications:
		report, err := r.dispatcher.Dispatch(ctx)
		if err != nil {
			log.Error("run failed", slog.String("code", "RUN_FAILED"), slog.Any("error", err))
			return nil, fmt.Errorf("send notifications: %w", err)
		}
		res.Dispatch = report
		res.Removal = r.reconciler.Reconcile(ctx, report)
	case RemoveNotifications:
		removal, err := r.reconciler.ReconcileStored(ctx)
		if err != nil {
			log.Error("run failed", slog.String("code", "RUN_FAILED"), slog.Any("error", err))
			return nil, fmt.Errorf("remove notifications: %w", err)
		}
		res.Removal = removal
	default:
		return nil, fmt.Errorf("unsupported run mode %s", mode)
	}

	res.Duration = time.Since(start)
	log.Info("run finished", slog.String("code", "RUN_DONE"), slog.Duration("duration", res.Duration))
	return res, nil
}
