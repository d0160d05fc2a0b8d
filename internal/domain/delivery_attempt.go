package domain

import (
	"fmt"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// DeliveryKey identifies one (notification, recipient, channel) delivery.
type DeliveryKey struct {
	NotificationID string      `json:"notification_id"`
	RecipientID    string      `json:"recipient_id"`
	Channel        ChannelKind `json:"channel"`
}

func (k DeliveryKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.NotificationID, k.RecipientID, k.Channel)
}

// DeliveryAttemptRecord is the only state the dispatcher writes. Once Status
// is DELIVERED the key is never attempted again, and Attempts never decreases.
type DeliveryAttemptRecord struct {
	Key            DeliveryKey    `json:"key"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastAttemptAt  time.Time      `json:"last_attempt_at"`
	ClaimedBy      string         `json:"claimed_by,omitempty"`
	ClaimExpiresAt time.Time      `json:"claim_expires_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// ClaimLive reports whether the record is held by an unexpired claim at now.
func (r *DeliveryAttemptRecord) ClaimLive(now time.Time) bool {
	return r.Status == DeliveryStatusPending && r.ClaimedBy != "" && now.Before(r.ClaimExpiresAt)
}
