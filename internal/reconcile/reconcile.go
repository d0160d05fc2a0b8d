// Package reconcile removes fully delivered notifications from the ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/observability"
	"github.com/lupppig/notifysender/internal/store"
)

type Config struct {
	Workers int `yaml:"workers"`
	// BatchLimit caps how many stored outcomes one RemoveNotifications pass
	// reconciles; zero means all.
	BatchLimit int `yaml:"batch_limit"`
}

type Reconciler struct {
	ledger   ledger.Gateway
	outcomes store.OutcomeStore
	events   events.Publisher
	cfg      Config
	clock    func() time.Time
	tracer   trace.Tracer
}

// New returns a Reconciler. outcomes and pub may be nil.
func New(cfg Config, gw ledger.Gateway, outcomes store.OutcomeStore, pub events.Publisher) *Reconciler {
	if pub == nil {
		pub = events.Nop{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Reconciler{
		ledger:   gw,
		outcomes: outcomes,
		events:   pub,
		cfg:      cfg,
		clock:    time.Now,
		tracer:   observability.Tracer(),
	}
}

// Reconcile removes every FULLY_DELIVERED notification of report from the
// ledger and retains the rest. An id the ledger no longer holds counts as
// removed. Removal failures are reported, never returned.
func (r *Reconciler) Reconcile(ctx context.Context, report *domain.DispatchReport) *domain.RemovalReport {
	ctx, span := r.tracer.Start(ctx, "reconcile.run", trace.WithAttributes(attribute.String("run.id", report.RunID)))
	defer span.End()

	log := logging.FromContext(ctx)
	out := domain.NewRemovalReport()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.cfg.Workers)

	for _, id := range report.IDs() {
		res := report.Results[id]
		if res.Outcome != domain.OutcomeFullyDelivered {
			out.Retained[id] = res.Outcome
			continue
		}

		g.Go(func() error {
			err := r.ledger.Remove(ctx, id)
			if errors.Is(err, ledger.ErrNotFound) {
				err = nil
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed[id] = err.Error()
				log.Warn("failed to remove notification",
					slog.String("code", "LEDGER_ERROR"),
					slog.String("notification_id", id),
					slog.Any("error", err))
				r.publish(report.RunID, id, events.StatusRemoveFailed, err.Error())
				return nil
			}
			out.Removed = append(out.Removed, id)
			r.publish(report.RunID, id, events.StatusRemoved, "")
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(out.Removed)

	r.markRemoved(ctx, out.Removed)

	span.SetAttributes(
		attribute.Int("removed", len(out.Removed)),
		attribute.Int("retained", len(out.Retained)),
		attribute.Int("failed", len(out.Failed)),
	)
	log.Info("reconcile finished",
		slog.Int("removed", len(out.Removed)),
		slog.Int("retained", len(out.Retained)),
		slog.Int("failed", len(out.Failed)))
	return out
}

// ReconcileStored reconciles the persisted FULLY_DELIVERED outcomes that have
// not been removed yet, without a fresh delivery pass.
func (r *Reconciler) ReconcileStored(ctx context.Context) (*domain.RemovalReport, error) {
	if r.outcomes == nil {
		return nil, fmt.Errorf("reconcile stored outcomes: no outcome store configured")
	}

	recs, err := r.outcomes.ListOutcomes(ctx, domain.OutcomeFullyDelivered, r.cfg.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list delivered outcomes: %w", err)
	}

	report := domain.NewDispatchReport(logging.RunID(ctx), r.clock())
	for _, rec := range recs {
		report.Results[rec.NotificationID] = &domain.NotificationResult{
			NotificationID: rec.NotificationID,
			RecipientID:    rec.RecipientID,
			Outcome:        rec.Outcome,
		}
	}
	report.FinishedAt = r.clock()

	return r.Reconcile(ctx, report), nil
}

func (r *Reconciler) markRemoved(ctx context.Context, ids []string) {
	if r.outcomes == nil {
		return
	}
	now := r.clock()
	for _, id := range ids {
		err := r.outcomes.MarkRemoved(ctx, id, now)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.FromContext(ctx).Warn("failed to mark outcome removed",
				slog.String("code", "DB_ERROR"),
				slog.String("notification_id", id),
				slog.Any("error", err))
		}
	}
}

func (r *Reconciler) publish(runID, id string, status events.Status, msg string) {
	ev := events.New(runID, id, status)
	ev.Message = msg
	r.events.Publish(ev)
}
