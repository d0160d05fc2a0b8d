package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/runner"
	"github.com/lupppig/notifysender/internal/security"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Deliver pending notifications and remove fully delivered ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), runner.SendNotifications, os.Stdout)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove notifications recorded as fully delivered by earlier runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), runner.RemoveNotifications, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(removeCmd)
}

func runMode(parent context.Context, mode runner.Mode, out io.Writer) error {
	ctx, cancel := NewCommandContext(parent)
	defer cancel()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()

	runID, err := security.NewRunID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	ctx = logging.WithRun(ctx, runID, mode.String())

	if IsQuiet() || IsJSONOutput() {
		res, err := s.runner.Run(ctx, mode)
		if err != nil {
			return err
		}
		return printResult(out, res)
	}

	m := NewRunModel(runID, mode)
	return runRunUI(ctx, m, s)
}

func printResult(out io.Writer, res *runner.Result) error {
	if IsQuiet() {
		fmt.Fprintln(out, res.RunID)
		return nil
	}
	if IsJSONOutput() {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	return printTable(out, res)
}

// printTable writes one row per notification followed by the removal
// summary.
func printTable(out io.Writer, res *runner.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN %s (%s)\n\n", res.RunID, res.Mode)

	if res.Dispatch != nil && len(res.Dispatch.Results) > 0 {
		ids := make([]string, 0, len(res.Dispatch.Results))
		for id := range res.Dispatch.Results {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintln(w, "NOTIFICATION\tRECIPIENT\tOUTCOME\tCHANNELS")
		for _, id := range ids {
			r := res.Dispatch.Results[id]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.NotificationID, r.RecipientID, r.Outcome, channelSummary(r.Channels))
		}
		fmt.Fprintln(w)
	}

	if rm := res.Removal; rm != nil {
		fmt.Fprintf(w, "removed: %d\tretained: %d\tfailed: %d\n", len(rm.Removed), len(rm.Retained), len(rm.Failed))
	}
	return w.Flush()
}

func channelSummary(chs []domain.ChannelResult) string {
	if len(chs) == 0 {
		return "-"
	}
	s := ""
	for i, ch := range chs {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%s", ch.Channel, ch.Status)
	}
	return s
}
