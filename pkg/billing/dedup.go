package billing

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/observability"
)

// DefaultDedupTTL covers Stripe's redelivery window for failed endpoints
const DefaultDedupTTL = 72 * time.Hour

// Deduplicator remembers which provider events were already applied.
// Implementations fail open: an error reads as "not seen" and marking is
// best effort, because applying an event twice is harmless.
type Deduplicator interface {
	Seen(ctx context.Context, eventID string) bool
	Mark(ctx context.Context, eventID string)
}

// NopDedup never remembers anything
type NopDedup struct{}

func (NopDedup) Seen(context.Context, string) bool { return false }
func (NopDedup) Mark(context.Context, string)      {}

// RedisDedup stores applied event ids in Redis with a TTL
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewRedisDedup creates a Redis-backed deduplicator
func NewRedisDedup(client *redis.Client, ttl time.Duration, logger *observability.Logger) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisDedup{client: client, ttl: ttl, logger: logger}
}

func dedupKey(eventID string) string {
	return "webhook:event:" + eventID
}

// Seen reports whether eventID was marked within the TTL
func (d *RedisDedup) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	n, err := d.client.Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		d.logger.WithField("event_id", eventID).WithError(err).Warn("dedup lookup failed, processing event")
		return false
	}
	return n > 0
}

// Mark records eventID as applied
func (d *RedisDedup) Mark(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	if err := d.client.SetNX(ctx, dedupKey(eventID), time.Now().Unix(), d.ttl).Err(); err != nil {
		d.logger.WithField("event_id", eventID).WithError(err).Warn("failed to mark webhook event")
	}
}
