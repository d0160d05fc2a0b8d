package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lupppig/notifysender/internal/domain"
	"github.com/lupppig/notifysender/internal/logging"
)

const cacheKeyPrefix = "notifier:recipient:"

// Cached is a read-through Redis cache in front of another directory. Redis
// failures fall back to the backing directory.
type Cached struct {
	next   Directory
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCached(next Directory, client redis.UniversalClient, ttl time.Duration) *Cached {
	return &Cached{next: next, client: client, ttl: ttl}
}

func (c *Cached) Lookup(ctx context.Context, recipientID string) ([]domain.RecipientEndpoint, error) {
	key := cacheKeyPrefix + recipientID
	log := logging.FromContext(ctx)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var eps []domain.RecipientEndpoint
		if jsonErr := json.Unmarshal(raw, &eps); jsonErr == nil {
			return eps, nil
		}
		log.Warn("discarding corrupt directory cache entry", slog.String("code", "CACHE_ERROR"), slog.String("recipient_id", recipientID))
	case errors.Is(err, redis.Nil):
	default:
		log.Warn("directory cache read failed", slog.String("code", "CACHE_ERROR"), slog.Any("error", err))
	}

	eps, err := c.next.Lookup(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(eps); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			log.Warn("directory cache write failed", slog.String("code", "CACHE_ERROR"), slog.Any("error", setErr))
		}
	}
	return eps, nil
}

// Invalidate drops the cached endpoints of a recipient.
func (c *Cached) Invalidate(ctx context.Context, recipientID string) error {
	return c.client.Del(ctx, cacheKeyPrefix+recipientID).Err()
}

var _ Directory = (*Cached)(nil)
