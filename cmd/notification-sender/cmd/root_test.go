package cmd

import (
	"context"
	"testing"
	"time"
)

func TestNewCommandContext(t *testing.T) {
	origTimeout := timeout
	defer func() { timeout = origTimeout }()

	tests := []struct {
		name       string
		timeoutVal time.Duration
	}{
		{name: "No timeout", timeoutVal: 0},
		{name: "Timeout", timeoutVal: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timeout = tt.timeoutVal

			ctx, cancel := NewCommandContext(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			if tt.timeoutVal == 0 {
				if ok {
					t.Error("expected no deadline without --timeout")
				}
				return
			}
			if !ok {
				t.Fatal("expected context to have a deadline")
			}
			expectedMax := time.Now().Add(tt.timeoutVal + time.Second)
			if deadline.After(expectedMax) {
				t.Errorf("deadline too far in the future: %v", deadline)
			}
		})
	}
}

func TestInteractive(t *testing.T) {
	defer func() { quiet, jsonOut = false, false }()

	if !interactive(sendCmd) || !interactive(removeCmd) {
		t.Error("send and remove should render the progress view by default")
	}
	if interactive(serveCmd) || interactive(lambdaCmd) {
		t.Error("serve and lambda must never render the progress view")
	}

	jsonOut = true
	if interactive(sendCmd) {
		t.Error("--json must disable the progress view")
	}
	jsonOut, quiet = false, true
	if interactive(removeCmd) {
		t.Error("--quiet must disable the progress view")
	}
}
