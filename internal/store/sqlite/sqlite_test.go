package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lupppig/notifysender/internal/store"
	"github.com/lupppig/notifysender/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(context.Background(), ":memory:")
		if err != nil {
			t.Fatalf("open in-memory store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpenFileIsReusable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Schema creation must be idempotent across reopen.
	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
}
