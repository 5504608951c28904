package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tutela/pkg/platform/sentinel"
)

const decisionKeyPrefix = "policy:decision:"

// RedisCache is the distributed DecisionCache. Entries carry the cache TTL
// as a key TTL, so stale decisions disappear without a sweeper.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed decision cache. The client
// lifecycle is managed externally.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Decision, error) {
	payload, err := c.client.Get(ctx, decisionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Decision{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Decision{}, fmt.Errorf("fetch cached decision: %w", err)
	}

	var d Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return Decision{}, fmt.Errorf("decode cached decision: %w", err)
	}
	return d, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, d Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	if err := c.client.Set(ctx, decisionKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store cached decision: %w", err)
	}
	return nil
}
