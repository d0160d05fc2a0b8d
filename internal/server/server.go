// Package server exposes the HTTP trigger for runs and a live event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/runner"
)

type Runner interface {
	Run(ctx context.Context, mode runner.Mode) (*runner.Result, error)
}

type Config struct {
	// JWTSecret enables bearer authentication on /v1 when set.
	JWTSecret string
}

type Server struct {
	router *gin.Engine
	runner Runner
	hub    *events.Hub
	cfg    Config
}

// New builds the router. hub may be nil, in which case the event stream
// endpoint is not registered.
func New(r Runner, hub *events.Hub, cfg Config) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{router: router, runner: r, hub: hub, cfg: cfg}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/v1")
	if s.cfg.JWTSecret != "" {
		api.Use(JWTAuth(s.cfg.JWTSecret))
	}
	api.POST("/runs", s.handleRun)
	if s.hub != nil {
		api.GET("/events", s.handleEvents)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("code", "SYS_STARTUP"), slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}
