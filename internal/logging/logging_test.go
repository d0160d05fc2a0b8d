package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestFromContextCarriesRunFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	defer slog.SetDefault(prev)
	InitWriter(&buf, Options{Level: "debug"})()

	ctx := WithRun(context.Background(), "run_abc", "send")
	ctx = WithNotificationID(ctx, "42")
	ctx = WithChannel(ctx, "push")
	FromContext(ctx).Info("delivered")

	out := buf.String()
	for _, want := range []string{"run_id=run_abc", "mode=send", "notification_id=42", "channel=push"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHubHandlerBroadcastsWarnings(t *testing.T) {
	hub := &LogHub{subscribers: make(map[string]chan string)}
	ch := hub.Subscribe("viewer")
	defer hub.Unsubscribe("viewer")

	logger := slog.New(NewHubHandler(hub, slog.LevelWarn))
	logger.Info("ignored")
	logger.With("code", "DEL_FAILED").Warn("send failed")

	select {
	case line := <-ch:
		if !strings.Contains(line, "send failed") || !strings.Contains(line, "code=DEL_FAILED") {
			t.Errorf("unexpected line %q", line)
		}
		if strings.Contains(line, "time=") {
			t.Errorf("hub lines should not carry a timestamp: %q", line)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for line")
	}

	select {
	case line := <-ch:
		t.Errorf("info record leaked to hub: %q", line)
	default:
	}
}
