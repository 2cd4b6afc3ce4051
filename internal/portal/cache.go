package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"planner/api/internal/store"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps validated portal grants keyed by token hash so the hot
// validate path avoids a database round trip. Postgres stays the source of
// truth; the cache is invalidated on any grant mutation.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "portal:",
	}, nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "portal:",
	}
}

func (c *RedisCache) key(tokenHash string) string {
	return c.prefix + tokenHash
}

// Save caches a validated grant for ttl.
func (c *RedisCache) Save(ctx context.Context, tokenHash string, grant store.AuthorizedClient, ttl time.Duration) error {
	jsonData, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal portal grant: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.client.Set(ctx, c.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("cache portal grant: %w", err)
	}
	return nil
}

// Lookup returns the cached grant, or found=false on a miss.
func (c *RedisCache) Lookup(ctx context.Context, tokenHash string) (store.AuthorizedClient, bool, error) {
	jsonData, err := c.client.Get(ctx, c.key(tokenHash)).Result()
	if err == redis.Nil {
		return store.AuthorizedClient{}, false, nil
	}
	if err != nil {
		return store.AuthorizedClient{}, false, fmt.Errorf("lookup portal grant: %w", err)
	}

	var grant store.AuthorizedClient
	if err := json.Unmarshal([]byte(jsonData), &grant); err != nil {
		return store.AuthorizedClient{}, false, fmt.Errorf("unmarshal portal grant: %w", err)
	}
	return grant, true, nil
}

// Invalidate drops a cached grant after a mutation or revocation.
func (c *RedisCache) Invalidate(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, c.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("invalidate portal grant: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
