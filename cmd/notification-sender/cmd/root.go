package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lupppig/notifysender/internal/config"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/observability"
)

var (
	configPath string
	quiet      bool
	jsonOut    bool
	timeout    time.Duration

	cfg           *config.Config
	closeLogs     = func() {}
	shutdownTrace = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "notification-sender",
	Short: "Deliver pending ledger notifications and acknowledge them",
	Long: `notification-sender reads pending notifications from the ledger canister,
delivers them over push and email, and removes fully delivered ones.

Run it once per invocation (send, remove), as a Lambda function (lambda),
or as a long-running service with a scheduler and HTTP trigger (serve).`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTrace(ctx); err != nil {
			slog.Warn("tracer shutdown failed", slog.Any("error", err))
		}
		closeLogs()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default "+config.DefaultConfigFileName+")")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Print only the run id")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print the run result as JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort the command after this duration")
}

func IsQuiet() bool      { return quiet }
func IsJSONOutput() bool { return jsonOut }

// interactive reports whether the command renders the terminal progress view.
func interactive(cmd *cobra.Command) bool {
	if quiet || jsonOut {
		return false
	}
	return cmd == sendCmd || cmd == removeCmd
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	// The progress view owns the terminal; logs reach it through the hub.
	var out io.Writer = os.Stderr
	if interactive(cmd) {
		out = io.Discard
		cfg.Logging.Hub = true
	}
	closeLogs = logging.InitWriter(out, cfg.Logging)

	shutdown, err := observability.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	shutdownTrace = shutdown
	return nil
}

// NewCommandContext applies --timeout to parent.
func NewCommandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
