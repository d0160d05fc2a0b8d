package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/lupppig/notifysender/internal/events"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func TestEventSinkPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	sink := EventSink{Publisher: pub, Prefix: "notifications"}

	ev := events.New("run-1", "42", events.StatusDelivered)
	ev.Channel = "email"
	sink.Publish(ev)

	if len(pub.subjects) != 1 || pub.subjects[0] != "notifications.delivered" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}

	var got events.DeliveryEvent
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if got.NotificationID != "42" || got.Channel != "email" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestEventSinkSwallowsErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	sink := EventSink{Publisher: pub, Prefix: "notifications"}

	sink.Publish(events.New("run-1", "1", events.StatusRemoveFailed))

	if pub.subjects[0] != "notifications.remove_failed" {
		t.Errorf("unexpected subject %s", pub.subjects[0])
	}
}
