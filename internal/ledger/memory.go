package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lupppig/notifysender/internal/domain"
)

// Memory is an in-process Gateway for local runs and tests. Notifications
// are returned in id order.
type Memory struct {
	mu            sync.Mutex
	notifications map[string]domain.Notification
	removed       []string

	// FetchErr and RemoveErr, when set, are returned by the matching call.
	FetchErr  error
	RemoveErr map[string]error
}

func NewMemory(ns ...domain.Notification) *Memory {
	m := &Memory{notifications: make(map[string]domain.Notification), RemoveErr: make(map[string]error)}
	for _, n := range ns {
		m.notifications[n.ID] = n
	}
	return m
}

func (m *Memory) Add(n domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
}

func (m *Memory) FetchPending(ctx context.Context, filter Filter) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	out := make([]domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if filter.After != "" && n.ID <= filter.After {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.RemoveErr[id]; err != nil {
		return fmt.Errorf("remove notification %s: %w", id, err)
	}
	if _, ok := m.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(m.notifications, id)
	m.removed = append(m.removed, id)
	return nil
}

// Pending returns the ids still on the ledger.
func (m *Memory) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.notifications))
	for id := range m.notifications {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Removed returns the ids removed so far, in call order.
func (m *Memory) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

var _ Gateway = (*Memory)(nil)
