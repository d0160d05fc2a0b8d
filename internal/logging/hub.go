package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogHub fans formatted log lines out to live viewers such as the terminal
// progress view.
type LogHub struct {
	mu          sync.RWMutex
	subscribers map[string]chan string
}

var globalHub = &LogHub{
	subscribers: make(map[string]chan string),
}

func GetHub() *LogHub {
	return globalHub
}

func (h *LogHub) Subscribe(id string) chan string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan string, 100)
	h.subscribers[id] = ch
	return ch
}

func (h *LogHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *LogHub) Broadcast(line string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- line:
		default:
			// Subscriber is too slow, skip this line
		}
	}
}

// HubHandler is a slog.Handler that renders records as single text lines
// and broadcasts them on a LogHub.
type HubHandler struct {
	hub   *LogHub
	level slog.Level
	attrs []slog.Attr
	group string
}

func NewHubHandler(hub *LogHub, level slog.Level) *HubHandler {
	return &HubHandler{hub: hub, level: level}
}

func (h *HubHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *HubHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	var handler slog.Handler = inner
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	if h.group != "" {
		handler = handler.WithGroup(h.group)
	}
	if err := handler.Handle(context.Background(), r); err != nil {
		return err
	}
	h.hub.Broadcast(strings.TrimRight(buf.String(), "\n"))
	return nil
}

func (h *HubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *HubHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}
