// Package dispatch runs one delivery pass over the notifications pending on
// the ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lupppig/notifysender/internal/channel"
	"github.com/lupppig/notifysender/internal/directory"
	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/ledger"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/observability"
	"github.com/lupppig/notifysender/internal/retry"
	"github.com/lupppig/notifysender/internal/security"
	"github.com/lupppig/notifysender/internal/store"
)

// Deps are the collaborators of a Dispatcher. Outcomes and Events are
// optional.
type Deps struct {
	Ledger    ledger.Gateway
	Directory directory.Directory
	Channels  channel.Registry
	State     store.StateStore
	Outcomes  store.OutcomeStore
	Policy    *retry.Policy
	Events    events.Publisher
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Dispatcher struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
}

func New(cfg Config, deps Deps) *Dispatcher {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Policy == nil {
		deps.Policy = retry.NewPolicy(retry.DefaultConfig())
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Dispatcher{deps: deps, cfg: cfg, tracer: observability.Tracer()}
}

// task is one (notification, channel) pair cleared for an attempt.
type task struct {
	key       domain.DeliveryKey
	addresses []string
	payload   domain.Payload
	previous  int
	result    *domain.ChannelResult
}

// Dispatch fetches a snapshot of pending notifications and attempts every
// eligible channel once. Only fetch-phase failures are returned as errors;
// everything else is reported per notification.
func (d *Dispatcher) Dispatch(ctx context.Context) (*domain.DispatchReport, error) {
	runID := logging.RunID(ctx)
	if runID == "" {
		id, err := security.NewRunID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = id
		ctx = logging.WithRun(ctx, runID, "send")
	}
	owner, err := security.NewOwner(runID)
	if err != nil {
		return nil, fmt.Errorf("generate claim owner: %w", err)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()

	log := logging.FromContext(ctx)
	report := domain.NewDispatchReport(runID, d.deps.Clock())

	notifications, err := d.deps.Ledger.FetchPending(ctx, ledger.Filter{Limit: d.cfg.FetchLimit})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger fetch failed")
		log.Error("failed to fetch pending notifications", slog.String("code", "LEDGER_ERROR"), slog.Any("error", err))
		return nil, &FetchError{Phase: "ledger", Err: err}
	}
	notifications = dedupe(ctx, notifications)
	span.SetAttributes(attribute.Int("notifications.count", len(notifications)))

	endpoints, dirErrs, err := d.resolve(ctx, notifications)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory unavailable")
		log.Error("recipient directory unavailable", slog.String("code", "DIRECTORY_ERROR"), slog.Any("error", err))
		return nil, &FetchError{Phase: "directory", Err: err}
	}

	var tasks []*task
	for _, n := range notifications {
		res := &domain.NotificationResult{NotificationID: n.ID, RecipientID: n.RecipientID}
		report.Results[n.ID] = res

		if dirErr := dirErrs[n.RecipientID]; dirErr != nil {
			res.Error = dirErr.Error()
			log.Warn("recipient lookup failed",
				slog.String("code", "DIRECTORY_ERROR"),
				slog.String("notification_id", n.ID),
				slog.Any("error", dirErr))
			continue
		}

		enabled := domain.EnabledChannels(endpoints[n.RecipientID])
		if len(enabled) == 0 {
			res.Error = "recipient has no enabled channel"
			continue
		}

		for _, kind := range sortedKinds(enabled) {
			res.Channels = append(res.Channels, domain.ChannelResult{Channel: kind})
		}
		for i := range res.Channels {
			cr := &res.Channels[i]
			key := domain.DeliveryKey{NotificationID: n.ID, RecipientID: n.RecipientID, Channel: cr.Channel}
			if t := d.plan(ctx, key, cr); t != nil {
				t.addresses = enabled[cr.Channel]
				t.payload = n.Payload
				tasks = append(tasks, t)
			}
		}
	}

	d.run(ctx, runID, owner, tasks)

	now := d.deps.Clock()
	for _, id := range report.IDs() {
		res := report.Results[id]
		res.Outcome = domain.Aggregate(res.Channels)
		d.saveOutcome(ctx, res, now)

		ev := events.New(runID, id, events.StatusOutcome)
		ev.RecipientID = res.RecipientID
		ev.Message = string(res.Outcome)
		d.deps.Events.Publish(ev)
	}
	report.FinishedAt = d.deps.Clock()

	counts := report.Counts()
	span.SetAttributes(
		attribute.Int("deliveries.attempted", report.Attempts()),
		attribute.Int("outcome.fully_delivered", counts[domain.OutcomeFullyDelivered]),
	)
	log.Info("dispatch finished",
		slog.Int("notifications", len(report.Results)),
		slog.Int("attempts", report.Attempts()),
		slog.Int("fully_delivered", counts[domain.OutcomeFullyDelivered]),
		slog.Int("partially_delivered", counts[domain.OutcomePartiallyDelivered]),
		slog.Int("pending", counts[domain.OutcomePending]),
		slog.Int("undeliverable", counts[domain.OutcomeUndeliverable]),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report, nil
}

// resolve looks up each distinct recipient once. An error wrapping
// directory.ErrUnavailable is returned as fatal; other failures are collected
// per recipient.
func (d *Dispatcher) resolve(ctx context.Context, ns []domain.Notification) (map[string][]domain.RecipientEndpoint, map[string]error, error) {
	var (
		mu        sync.Mutex
		endpoints = make(map[string][]domain.RecipientEndpoint)
		failures  = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	seen := make(map[string]bool)
	for _, n := range ns {
		recipientID := n.RecipientID
		if seen[recipientID] {
			continue
		}
		seen[recipientID] = true

		g.Go(func() error {
			eps, err := d.deps.Directory.Lookup(gctx, recipientID)
			if errors.Is(err, directory.ErrUnavailable) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[recipientID] = &DirectoryError{RecipientID: recipientID, Err: err}
				return nil
			}
			endpoints[recipientID] = eps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return endpoints, failures, nil
}

// plan fills cr for keys that need no attempt this run and returns a task for
// the rest.
func (d *Dispatcher) plan(ctx context.Context, key domain.DeliveryKey, cr *domain.ChannelResult) *task {
	log := logging.FromContext(ctx)

	rec, err := d.deps.State.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		rec, err = nil, nil
	}
	if err != nil {
		cr.Status = domain.DeliveryStatusPending
		cr.Skipped = true
		cr.Error = fmt.Sprintf("read delivery state: %v", err)
		log.Warn("failed to read delivery state", slog.String("code", "DB_ERROR"), slog.String("key", key.String()), slog.Any("error", err))
		return nil
	}

	previous := 0
	if rec != nil {
		previous = rec.Attempts
		cr.Attempts = rec.Attempts
	}
	now := d.deps.Clock()

	switch {
	case rec != nil && rec.Status == domain.DeliveryStatusDelivered:
		cr.Status = domain.DeliveryStatusDelivered
		cr.Skipped = true
		return nil
	case d.deps.Policy.Exhausted(rec):
		cr.Status = domain.DeliveryStatusFailed
		cr.Exhausted = true
		cr.Skipped = true
		cr.Error = rec.LastError
		return nil
	case !d.deps.Policy.Eligible(rec, now):
		cr.Status = domain.DeliveryStatusFailed
		cr.Skipped = true
		cr.Error = rec.LastError
		return nil
	case rec != nil && rec.ClaimLive(now):
		cr.Status = domain.DeliveryStatusPending
		cr.Skipped = true
		cr.Error = "claimed by another run"
		return nil
	}

	if _, ok := d.deps.Channels.Lookup(key.Channel); !ok {
		cr.Status = domain.DeliveryStatusPending
		cr.Skipped = true
		cr.Error = "channel not configured"
		return nil
	}

	return &task{key: key, previous: previous, result: cr}
}

// run executes tasks on a bounded pool. Once ctx or the run deadline is done
// no new task starts; tasks already started finish on a detached context.
func (d *Dispatcher) run(ctx context.Context, runID, owner string, tasks []*task) {
	runCtx := ctx
	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	var (
		g           errgroup.Group
		unscheduled atomic.Int32
	)
	g.SetLimit(d.cfg.Workers)

	for _, t := range tasks {
		if runCtx.Err() != nil {
			unschedule(t)
			unscheduled.Add(1)
			continue
		}
		g.Go(func() error {
			// The slot may only have freed up after the deadline.
			if runCtx.Err() != nil {
				unschedule(t)
				unscheduled.Add(1)
				return nil
			}
			// Throttling happens before the claim so that queueing for a
			// token never costs an attempt.
			if err := d.deps.Channels.Wait(runCtx, t.key.Channel, len(t.addresses)); err != nil {
				unschedule(t)
				unscheduled.Add(1)
				return nil
			}
			d.deliver(context.WithoutCancel(runCtx), runID, owner, t)
			return nil
		})
	}
	_ = g.Wait()

	if n := unscheduled.Load(); n > 0 {
		logging.FromContext(ctx).Warn("run deadline reached, leaving tasks for the next run",
			slog.String("code", "RUN_DEADLINE"),
			slog.Int("unscheduled", int(n)))
	}
}

func unschedule(t *task) {
	t.result.Status = domain.DeliveryStatusPending
	t.result.Error = "run deadline reached"
}

// taskContext bounds one task so that its claim and every send finish while
// the claim is still held. One SendTimeout of the claim is held back for
// recording the result.
func (d *Dispatcher) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := d.cfg.ClaimTTL - d.cfg.SendTimeout
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// bounded returns a child of ctx limited to SendTimeout.
func (d *Dispatcher) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.SendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.SendTimeout)
}

func (d *Dispatcher) deliver(ctx context.Context, runID, owner string, t *task) {
	ctx = logging.WithNotificationID(ctx, t.key.NotificationID)
	ctx = logging.WithChannel(ctx, string(t.key.Channel))
	ctx, span := d.tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("notification.id", t.key.NotificationID),
		attribute.String("channel", string(t.key.Channel)),
	))
	defer span.End()

	log := logging.FromContext(ctx)
	cr := t.result

	taskCtx, cancelTask := d.taskContext(ctx)
	defer cancelTask()

	claimCtx, cancel := d.bounded(taskCtx)
	claimed, err := d.deps.State.TryClaim(claimCtx, t.key, store.Claim{Owner: owner, At: d.deps.Clock(), TTL: d.cfg.ClaimTTL})
	cancel()
	if err != nil || !claimed {
		cr.Status = domain.DeliveryStatusPending
		cr.Skipped = true
		cr.Error = "claimed by another run"
		if err != nil {
			cr.Error = fmt.Sprintf("claim: %v", err)
			log.Warn("failed to claim delivery", slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
		d.publish(runID, t, events.StatusSkipped, cr.Error)
		return
	}

	cr.Attempted = true
	cr.Attempts = t.previous + 1
	d.publish(runID, t, events.StatusDelivering, "")

	delivered, sendErr := d.send(taskCtx, t)
	result := store.Result{Owner: owner, Delivered: delivered, At: d.deps.Clock()}
	if sendErr != nil && !delivered {
		result.Error = sendErr.Error()
	}

	recordCtx, cancel := d.bounded(ctx)
	recordErr := d.deps.State.RecordResult(recordCtx, t.key, result)
	cancel()

	switch {
	case recordErr != nil:
		// The send outcome is unknown to the store; the key stays PENDING
		// until its claim expires.
		cr.Status = domain.DeliveryStatusPending
		cr.Error = fmt.Sprintf("record result: %v", recordErr)
		span.RecordError(recordErr)
		log.Error("failed to record delivery result",
			slog.String("code", "DB_ERROR"),
			slog.Bool("delivered", delivered),
			slog.Any("error", recordErr))
		d.publish(runID, t, events.StatusFailed, cr.Error)
	case delivered:
		cr.Status = domain.DeliveryStatusDelivered
		d.publish(runID, t, events.StatusDelivered, "")
	default:
		cr.Status = domain.DeliveryStatusFailed
		cr.Error = result.Error
		cr.Exhausted = !d.deps.Policy.ShouldRetry(cr.Attempts)
		span.SetStatus(codes.Error, "send failed")
		log.Warn("delivery failed",
			slog.String("code", "DEL_FAILED"),
			slog.Int("attempt", cr.Attempts),
			slog.Bool("exhausted", cr.Exhausted),
			slog.String("error", result.Error))
		d.publish(runID, t, events.StatusFailed, result.Error)
	}
}

// send tries every address of the channel until ctx is done. The channel
// counts as delivered when at least one address accepted the message.
func (d *Dispatcher) send(ctx context.Context, t *task) (bool, error) {
	var errs []error
	delivered := false
	for i, addr := range t.addresses {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("claim deadline reached with %d of %d addresses unsent", len(t.addresses)-i, len(t.addresses)))
			break
		}
		sendCtx, cancel := d.bounded(ctx)
		err := d.deps.Channels.Send(sendCtx, t.key.Channel, addr, t.payload)
		cancel()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	return delivered, errors.Join(errs...)
}

func (d *Dispatcher) publish(runID string, t *task, status events.Status, msg string) {
	ev := events.New(runID, t.key.NotificationID, status)
	ev.RecipientID = t.key.RecipientID
	ev.Channel = string(t.key.Channel)
	ev.Attempt = t.result.Attempts
	ev.Message = msg
	d.deps.Events.Publish(ev)
}

func (d *Dispatcher) saveOutcome(ctx context.Context, res *domain.NotificationResult, now time.Time) {
	if d.deps.Outcomes == nil {
		return
	}
	err := d.deps.Outcomes.SaveOutcome(ctx, domain.OutcomeRecord{
		NotificationID: res.NotificationID,
		RecipientID:    res.RecipientID,
		Outcome:        res.Outcome,
		UpdatedAt:      now,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("failed to save outcome",
			slog.String("code", "DB_ERROR"),
			slog.String("notification_id", res.NotificationID),
			slog.Any("error", err))
	}
}

func dedupe(ctx context.Context, ns []domain.Notification) []domain.Notification {
	seen := make(map[string]bool, len(ns))
	out := ns[:0:0]
	for _, n := range ns {
		if seen[n.ID] {
			logging.FromContext(ctx).Warn("ledger returned duplicate notification", slog.String("notification_id", n.ID))
			continue
		}
		seen[n.ID] = true
		out = append(out, n)
	}
	return out
}

func sortedKinds(m map[domain.ChannelKind][]string) []domain.ChannelKind {
	kinds := make([]domain.ChannelKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
