package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Kettlebell319/VibeCodingBasics/pkg/questions"
)

// DefaultQuestionTTL bounds how stale a cached question page can be
const DefaultQuestionTTL = 15 * time.Minute

// CachedQuestionStore serves GetBySlug from Redis and falls through to the
// wrapped store on a miss. Cache failures never fail a read.
type CachedQuestionStore struct {
	questions.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedQuestionStore wraps store with a Redis read-through cache
func NewCachedQuestionStore(store questions.Store, client *redis.Client, ttl time.Duration) *CachedQuestionStore {
	if ttl <= 0 {
		ttl = DefaultQuestionTTL
	}
	return &CachedQuestionStore{Store: store, redis: client, ttl: ttl}
}

func questionKey(slug string) string {
	return fmt.Sprintf("question:%s", slug)
}

// GetBySlug implements questions.Store
func (c *CachedQuestionStore) GetBySlug(ctx context.Context, slug string) (*questions.Question, error) {
	key := questionKey(slug)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var q questions.Question
		if err := json.Unmarshal(data, &q); err == nil {
			return &q, nil
		}
		c.redis.Del(ctx, key)
	}

	q, err := c.Store.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(q); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}
	return q, nil
}

// Create implements questions.Store and drops any cached entry for the slug
func (c *CachedQuestionStore) Create(ctx context.Context, q *questions.Question, a *questions.Answer) error {
	if err := c.Store.Create(ctx, q, a); err != nil {
		return err
	}
	c.redis.Del(ctx, questionKey(q.Slug))
	return nil
}
