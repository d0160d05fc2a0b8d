package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lupppig/notifysender/internal/app"
	"github.com/lupppig/notifysender/internal/runner"
	"github.com/lupppig/notifysender/internal/server"
	"github.com/lupppig/notifysender/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled passes and serve the HTTP trigger and gRPC health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("close backends", slog.Any("error", err))
		}
	}()

	w := worker.NewWorker(a.Runner, worker.Config{
		SendInterval:   cfg.Server.SendInterval,
		RemoveInterval: cfg.Server.RemoveInterval,
	})
	w.OnResult = func(res *runner.Result, err error) {
		if err == nil {
			slog.Info("scheduled run finished",
				slog.String("run_id", res.RunID),
				slog.String("mode", res.Mode.String()),
				slog.Duration("duration", res.Duration))
		}
	}
	if a.NATS != nil {
		if err := w.Subscribe(a.NATS.Conn(), worker.TriggerSubject); err != nil {
			return fmt.Errorf("subscribe to run triggers: %w", err)
		}
	}

	httpSrv := server.New(a.Runner, a.Hub, server.Config{JWTSecret: cfg.Server.JWTSecret})
	grpcSrv, health := server.NewGRPCServer()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Start(ctx) })
	g.Go(func() error { return httpSrv.ListenAndServe(ctx, cfg.Server.HTTPAddr) })
	g.Go(func() error {
		slog.Info("gRPC server listening", slog.String("code", "SYS_STARTUP"), slog.String("addr", cfg.Server.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}
