package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/lupppig/notifysender/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

const publishTimeout = 5 * time.Second

// EventSink forwards delivery events to a broker as JSON, one subject per
// status: <prefix>.<status>, e.g. notifications.delivered.
type EventSink struct {
	Publisher Publisher
	Prefix    string
}

func (s EventSink) Subject(status events.Status) string {
	return s.Prefix + "." + strings.ToLower(string(status))
}

func (s EventSink) Publish(event events.DeliveryEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode event", slog.String("code", "BROKER_ERROR"), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.Publisher.Publish(ctx, s.Subject(event.Status), data); err != nil {
		slog.Warn("failed to forward event",
			slog.String("code", "BROKER_ERROR"),
			slog.String("run_id", event.RunID),
			slog.String("notification_id", event.NotificationID),
			slog.Any("error", err))
	}
}

var _ events.Publisher = EventSink{}
