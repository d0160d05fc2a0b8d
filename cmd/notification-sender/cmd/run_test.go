package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lupppig/notifysender/internal/config"
	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/runner"
)

type mockRunner struct {
	modes  []runner.Mode
	runIDs []string
	err    error
}

func (m *mockRunner) Run(ctx context.Context, mode runner.Mode) (*runner.Result, error) {
	m.modes = append(m.modes, mode)
	m.runIDs = append(m.runIDs, logging.RunID(ctx))
	if m.err != nil {
		return nil, m.err
	}
	report := domain.NewDispatchReport(logging.RunID(ctx), testTime)
	report.Results["n1"] = &domain.NotificationResult{
		NotificationID: "n1",
		RecipientID:    "alice",
		Outcome:        domain.OutcomeFullyDelivered,
		Channels: []domain.ChannelResult{
			{Channel: domain.ChannelPush, Status: domain.DeliveryStatusDelivered, Attempted: true, Attempts: 1},
		},
	}
	removal := domain.NewRemovalReport()
	removal.Removed = append(removal.Removed, "n1")
	return &runner.Result{RunID: logging.RunID(ctx), Mode: mode, Dispatch: report, Removal: removal}, nil
}

func withMockSession(t *testing.T, r *mockRunner) *bool {
	t.Helper()
	closed := false
	orig := openSession
	openSession = func(context.Context, *config.Config) (*session, error) {
		return &session{runner: r, hub: events.NewHub(), close: func() error { closed = true; return nil }}, nil
	}
	t.Cleanup(func() { openSession = orig })
	return &closed
}

func TestRunModeJSON(t *testing.T) {
	r := &mockRunner{}
	closed := withMockSession(t, r)
	jsonOut = true
	defer func() { jsonOut = false }()

	var out bytes.Buffer
	if err := runMode(context.Background(), runner.SendNotifications, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		RunID    string `json:"run_id"`
		Mode     string `json:"mode"`
		Dispatch struct {
			Results map[string]struct {
				Outcome string `json:"outcome"`
			} `json:"results"`
		} `json:"dispatch"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got.Mode != "SendNotifications" || got.Dispatch.Results["n1"].Outcome != "FULLY_DELIVERED" {
		t.Errorf("unexpected output: %s", out.String())
	}
	if !strings.HasPrefix(got.RunID, "run_") || r.runIDs[0] != got.RunID {
		t.Errorf("run id %q not propagated to the runner (%v)", got.RunID, r.runIDs)
	}
	if !*closed {
		t.Error("session was not closed")
	}
}

func TestRunModeQuiet(t *testing.T) {
	r := &mockRunner{}
	withMockSession(t, r)
	quiet = true
	defer func() { quiet = false }()

	var out bytes.Buffer
	if err := runMode(context.Background(), runner.RemoveNotifications, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != r.runIDs[0] {
		t.Errorf("expected only the run id, got %q", out.String())
	}
	if r.modes[0] != runner.RemoveNotifications {
		t.Errorf("expected remove mode, got %v", r.modes)
	}
}

func TestRunModeError(t *testing.T) {
	withMockSession(t, &mockRunner{err: errors.New("ledger unreachable")})
	jsonOut = true
	defer func() { jsonOut = false }()

	err := runMode(context.Background(), runner.SendNotifications, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "ledger unreachable") {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestPrintTable(t *testing.T) {
	r := &mockRunner{}
	ctx := logging.WithRun(context.Background(), "run_table", "SendNotifications")
	res, _ := r.Run(ctx, runner.SendNotifications)

	var out bytes.Buffer
	if err := printTable(&out, res); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run_table", "NOTIFICATION", "alice", "FULLY_DELIVERED", "push=DELIVERED", "removed: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table missing %q:\n%s", want, out.String())
		}
	}
}
