package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "daytrader:quote:"

// RedisCache stores the latest quote per symbol with a TTL
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: defaultCachePrefix,
	}
}

func (c *RedisCache) key(symbol string) string {
	return c.prefix + symbol
}

// Get returns ok=false on a miss
func (c *RedisCache) Get(ctx context.Context, symbol string) (Quote, bool, error) {
	raw, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, fmt.Errorf("redis get: %w", err)
	}

	var q Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return Quote{}, false, fmt.Errorf("decode cached quote: %w", err)
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, q Quote) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	if err := c.client.Set(ctx, c.key(q.Symbol), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
