// Package cache memoizes short-link redirect resolutions in Redis.
// The cache is optional: the extractors take a nil cache and simply
// resolve every link over the network.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamgrab/backend/internal/logger"
)

const (
	redirectKeyPrefix = "redirect:"

	// Short links map to one video permanently; the TTL only bounds
	// cache growth.
	redirectTTL = 24 * time.Hour
)

type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects to Redis at addr and verifies the connection.
func New(addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log := logger.Default().WithComponent("cache")
	log.Info(ctx, "connected to redis", map[string]interface{}{"addr": addr})
	return &Cache{client: client, log: log}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// GetRedirect returns the memoized resolution of shortURL. A miss and
// a Redis failure look the same to the caller: resolve over the
// network.
func (c *Cache) GetRedirect(ctx context.Context, shortURL string) (string, bool) {
	key := redirectKeyPrefix + shortURL
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "redirect lookup failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return "", false
	}
	return val, true
}

// SetRedirect memoizes a resolution. Failures are logged and dropped;
// the resolution already happened.
func (c *Cache) SetRedirect(ctx context.Context, shortURL, resolvedURL string) {
	key := redirectKeyPrefix + shortURL
	if err := c.client.Set(ctx, key, resolvedURL, redirectTTL).Err(); err != nil {
		c.log.Warn(ctx, "redirect store failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Ping reports whether the Redis connection is healthy.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
