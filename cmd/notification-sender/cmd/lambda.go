package cmd

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/lupppig/notifysender/internal/runner"
)

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve invocations as an AWS Lambda function",
	Long: `lambda starts the Lambda runtime loop. Each invocation takes
{"run_mode": "SendNotifications"} or {"run_mode": "RemoveNotifications"}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = s.close() }()

		lambda.Start(newLambdaHandler(s.runner))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}

func newLambdaHandler(r runRunner) func(context.Context, runner.Request) (*runner.Result, error) {
	return func(ctx context.Context, req runner.Request) (*runner.Result, error) {
		if req.RunMode == 0 {
			return nil, fmt.Errorf("run_mode is required")
		}
		ctx, cancel := NewCommandContext(ctx)
		defer cancel()
		return r.Run(ctx, req.RunMode)
	}
}
