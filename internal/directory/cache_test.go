package directory

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lupppig/notifysender/internal/domain"
)

type countingDirectory struct {
	calls atomic.Int32
	eps   []domain.RecipientEndpoint
}

func (d *countingDirectory) Lookup(context.Context, string) ([]domain.RecipientEndpoint, error) {
	d.calls.Add(1)
	return d.eps, nil
}

// Set NOTIFIER_TEST_REDIS_ADDR (e.g. localhost:6379) to run against Redis.
func TestCachedReadThrough(t *testing.T) {
	addr := os.Getenv("NOTIFIER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOTIFIER_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	backing := &countingDirectory{eps: []domain.RecipientEndpoint{{Channel: domain.ChannelEmail, Address: "a@b.c", Enabled: true}}}
	cached := NewCached(backing, client, time.Minute)
	require.NoError(t, cached.Invalidate(ctx, "cache-test"))

	for i := 0; i < 3; i++ {
		eps, err := cached.Lookup(ctx, "cache-test")
		require.NoError(t, err)
		assert.Equal(t, backing.eps, eps)
	}
	assert.Equal(t, int32(1), backing.calls.Load())
}

func TestCachedFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	backing := &countingDirectory{eps: []domain.RecipientEndpoint{{Channel: domain.ChannelPush, Address: "x", Enabled: true}}}
	cached := NewCached(backing, client, time.Minute)

	eps, err := cached.Lookup(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, eps, 1)
	assert.Equal(t, int32(1), backing.calls.Load())
}
