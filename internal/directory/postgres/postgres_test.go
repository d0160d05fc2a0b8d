package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/notifysender/internal/directory"
	"github.com/lupppig/notifysender/internal/domain"
	storepg "github.com/lupppig/notifysender/internal/store/postgres"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"undefined column", &pgconn.PgError{Code: "42703"}, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"plain error", errors.New("scan failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(got, directory.ErrUnavailable))
		})
	}
}

func TestLookup(t *testing.T) {
	dsn := os.Getenv("NOTIFIER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NOTIFIER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	db, err := storepg.New(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Pool.Exec(ctx, `DELETE FROM recipient_endpoints WHERE recipient_id = 'dir-test'`)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO recipient_endpoints (recipient_id, channel, address, enabled) VALUES
			('dir-test', 'push', 'arn:1', TRUE),
			('dir-test', 'email', 'a@example.com', FALSE)
	`)
	require.NoError(t, err)

	dir := New(db.Pool)
	eps, err := dir.Lookup(ctx, "dir-test")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, domain.ChannelEmail, eps[0].Channel)
	assert.False(t, eps[0].Enabled)

	eps, err = dir.Lookup(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, eps)
}
