package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	RunIDKey          contextKey = "run_id"
	ModeKey           contextKey = "mode"
	NotificationIDKey contextKey = "notification_id"
	ChannelKey        contextKey = "channel"
)

const timeFormat = "2006:01:02:15:04:05"

type Options struct {
	Level string `yaml:"level"`
	// File, when set, receives a JSON copy of every record.
	File string `yaml:"file"`
	// Hub forwards warnings and errors to in-process subscribers.
	Hub bool `yaml:"-"`
}

// MultiHandler sends log records to multiple handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(a.Key, t.Format(timeFormat))
				}
			}
			return a
		},
	}
}

// Init installs the default logger: text on stdout, plus JSON into
// opts.File when set. The returned func closes the log file.
func Init(opts Options) func() {
	return InitWriter(os.Stdout, opts)
}

func InitWriter(w io.Writer, opts Options) func() {
	hopts := handlerOptions(ParseLevel(opts.Level))
	handlers := []slog.Handler{slog.NewTextHandler(w, hopts)}
	if opts.Hub {
		handlers = append(handlers, NewHubHandler(GetHub(), slog.LevelWarn))
	}

	closer := func() {}
	if opts.File != "" {
		logFile, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file", slog.String("path", opts.File), slog.Any("error", err))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(logFile, hopts))
			closer = func() { _ = logFile.Close() }
		}
	}

	slog.SetDefault(slog.New(NewMultiHandler(handlers...)))
	return closer
}

func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if val, ok := ctx.Value(RunIDKey).(string); ok {
		l = l.With("run_id", val)
	}
	if val, ok := ctx.Value(ModeKey).(string); ok {
		l = l.With("mode", val)
	}
	if val, ok := ctx.Value(NotificationIDKey).(string); ok {
		l = l.With("notification_id", val)
	}
	if val, ok := ctx.Value(ChannelKey).(string); ok {
		l = l.With("channel", val)
	}
	return l
}

func WithRun(ctx context.Context, runID, mode string) context.Context {
	ctx = context.WithValue(ctx, RunIDKey, runID)
	return context.WithValue(ctx, ModeKey, mode)
}

func WithNotificationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, NotificationIDKey, id)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

// RunID returns the run id stored by WithRun, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(RunIDKey).(string)
	return id
}
