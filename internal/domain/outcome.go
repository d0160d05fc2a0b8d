package domain

import (
	"sort"
	"time"
)

type Outcome string

const (
	OutcomeFullyDelivered     Outcome = "FULLY_DELIVERED"
	OutcomePartiallyDelivered Outcome = "PARTIALLY_DELIVERED"
	OutcomeUndeliverable      Outcome = "UNDELIVERABLE"
	OutcomePending            Outcome = "PENDING"
)

// ChannelResult is the state of one enabled channel of a notification at the
// end of a run.
type ChannelResult struct {
	Channel   ChannelKind    `json:"channel"`
	Status    DeliveryStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	Attempted bool           `json:"attempted"`
	Skipped   bool           `json:"skipped,omitempty"`
	Exhausted bool           `json:"exhausted,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type NotificationResult struct {
	NotificationID string          `json:"notification_id"`
	RecipientID    string          `json:"recipient_id"`
	Outcome        Outcome         `json:"outcome"`
	Channels       []ChannelResult `json:"channels"`
	Error          string          `json:"error,omitempty"`
}

// Aggregate derives a notification outcome from the results of its enabled
// channels.
func Aggregate(channels []ChannelResult) Outcome {
	if len(channels) == 0 {
		return OutcomeUndeliverable
	}

	delivered, exhausted := 0, 0
	for _, ch := range channels {
		switch {
		case ch.Status == DeliveryStatusDelivered:
			delivered++
		case ch.Exhausted:
			exhausted++
		}
	}

	switch {
	case delivered == len(channels):
		return OutcomeFullyDelivered
	case delivered == 0 && exhausted == len(channels):
		return OutcomeUndeliverable
	case delivered > 0:
		return OutcomePartiallyDelivered
	default:
		return OutcomePending
	}
}

type DispatchReport struct {
	RunID      string                         `json:"run_id"`
	StartedAt  time.Time                      `json:"started_at"`
	FinishedAt time.Time                      `json:"finished_at"`
	Results    map[string]*NotificationResult `json:"results"`
}

func NewDispatchReport(runID string, startedAt time.Time) *DispatchReport {
	return &DispatchReport{
		RunID:     runID,
		StartedAt: startedAt,
		Results:   make(map[string]*NotificationResult),
	}
}

// Outcome returns the outcome recorded for id.
func (r *DispatchReport) Outcome(id string) (Outcome, bool) {
	res, ok := r.Results[id]
	if !ok {
		return "", false
	}
	return res.Outcome, true
}

// IDs returns the notification ids in the report in lexical order.
func (r *DispatchReport) IDs() []string {
	ids := make([]string, 0, len(r.Results))
	for id := range r.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts tallies the report by outcome.
func (r *DispatchReport) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Attempts counts the channel sends actually performed during the run.
func (r *DispatchReport) Attempts() int {
	n := 0
	for _, res := range r.Results {
		for _, ch := range res.Channels {
			if ch.Attempted {
				n++
			}
		}
	}
	return n
}

type RemovalReport struct {
	Removed  []string           `json:"removed"`
	Retained map[string]Outcome `json:"retained"`
	Failed   map[string]string  `json:"failed"`
}

func NewRemovalReport() *RemovalReport {
	return &RemovalReport{
		Removed:  []string{},
		Retained: make(map[string]Outcome),
		Failed:   make(map[string]string),
	}
}

// OutcomeRecord is the persisted per-notification outcome of the latest run.
// RemoveNotifications reconciles against these records.
type OutcomeRecord struct {
	NotificationID string     `json:"notification_id"`
	RecipientID    string     `json:"recipient_id"`
	Outcome        Outcome    `json:"outcome"`
	UpdatedAt      time.Time  `json:"updated_at"`
	RemovedAt      *time.Time `json:"removed_at,omitempty"`
}
