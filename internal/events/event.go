package events

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDelivering   Status = "DELIVERING"
	StatusDelivered    Status = "DELIVERED"
	StatusFailed       Status = "FAILED"
	StatusSkipped      Status = "SKIPPED"
	StatusOutcome      Status = "OUTCOME"
	StatusRemoved      Status = "REMOVED"
	StatusRemoveFailed Status = "REMOVE_FAILED"
)

// DeliveryEvent reports progress of a single notification within a run.
type DeliveryEvent struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	Attempt        int       `json:"attempt,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(runID, notificationID string, status Status) DeliveryEvent {
	return DeliveryEvent{
		ID:             uuid.NewString(),
		RunID:          runID,
		NotificationID: notificationID,
		Status:         status,
		Timestamp:      time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(event DeliveryEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(DeliveryEvent) {}

// Multi publishes every event to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(event DeliveryEvent) {
	for _, p := range m {
		p.Publish(event)
	}
}
