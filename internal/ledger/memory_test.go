package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/lupppig/notifysender/internal/domain"
)

func TestMemoryFetchFilter(t *testing.T) {
	m := NewMemory(
		domain.Notification{ID: "1"},
		domain.Notification{ID: "2"},
		domain.Notification{ID: "3"},
	)

	got, err := m.FetchPending(context.Background(), Filter{After: "1", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("expected [2], got %v", got)
	}
}

func TestMemoryRemove(t *testing.T) {
	m := NewMemory(domain.Notification{ID: "1"})
	ctx := context.Background()

	if err := m.Remove(ctx, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Remove(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
	if len(m.Pending()) != 0 {
		t.Errorf("expected empty ledger, got %v", m.Pending())
	}
}

func TestParseFile(t *testing.T) {
	m, err := ParseFile([]byte(`
notifications:
  - id: "2"
    recipient_id: alice
    title: Hi
    body: there
  - id: "1"
    recipient_id: bob
    metadata:
      kind: reminder
`))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	got := m.Pending()
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("unexpected pending ids %v", got)
	}

	if _, err := ParseFile([]byte("notifications:\n  - title: orphan\n")); err == nil {
		t.Fatal("expected error for notification without id")
	}
}
