package cmd

import (
	"context"

	"github.com/lupppig/notifysender/internal/app"
	"github.com/lupppig/notifysender/internal/config"
	"github.com/lupppig/notifysender/internal/events"
	"github.com/lupppig/notifysender/internal/runner"
)

type runRunner interface {
	Run(ctx context.Context, mode runner.Mode) (*runner.Result, error)
}

// session is what a single-run command needs from the wired application.
type session struct {
	runner runRunner
	hub    *events.Hub
	close  func() error
}

// openSession is replaced in tests.
var openSession = func(ctx context.Context, cfg *config.Config) (*session, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{runner: a.Runner, hub: a.Hub, close: a.Close}, nil
}
