// Package cache provides a small JSON-over-Redis cache used for read-heavy
// plan and quota lookups. A nil *Cache is valid and behaves as a cache that
// always misses, so callers never need to branch on whether Redis is
// configured.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes and TTLs for cached billing lookups.
const (
	KeyQuotaUsage = "docuflow:quota:usage:"
	KeyPlanTier   = "docuflow:plan:tier:"

	TTLQuotaUsage = 2 * time.Minute
	TTLPlanTier   = 5 * time.Minute
)

// ErrMiss indicates the key is absent from the cache.
var ErrMiss = errors.New("cache: miss")

// Cache wraps a Redis client with JSON serialization.
type Cache struct {
	client *redis.Client
}

// New constructs a Cache. addr may be empty, in which case nil is returned
// and every lookup misses.
func New(addr, password string, db int) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewWithClient wraps an existing Redis client, used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get retrieves a value and unmarshals it into dest. Returns ErrMiss for
// absent keys.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return fmt.Errorf("cache: get %s: %w", key, err)
	}
	return json.Unmarshal(data, dest)
}

// Set stores a value with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, errMarshal)
	}
	if errSet := c.client.Set(ctx, key, data, ttl).Err(); errSet != nil {
		return fmt.Errorf("cache: set %s: %w", key, errSet)
	}
	return nil
}

// Delete removes keys. Absent keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	if errDel := c.client.Del(ctx, keys...).Err(); errDel != nil {
		return fmt.Errorf("cache: delete: %w", errDel)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
