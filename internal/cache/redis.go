package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mri-screening-server/internal/domain"
)

// RedisCache keeps inference results in Redis
type RedisCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, config domain.CacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &RedisCache{
		redis:      client,
		defaultTTL: ttl,
	}, nil
}

// Get returns a cached result; a miss is (nil, false, nil)
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.InferenceResult, bool, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		cacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get inference cache: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal(val, &cached); err != nil || cached.Data == nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		cacheMissesTotal.WithLabelValues("redis").Inc()
		return nil, false, nil
	}

	cacheHitsTotal.WithLabelValues("redis").Inc()
	return cached.Data, true, nil
}

// Set stores a result with the default TTL
func (c *RedisCache) Set(ctx context.Context, key string, result *domain.InferenceResult) error {
	now := time.Now()
	cached := cachedResult{
		Data:      result,
		CachedAt:  now,
		ExpiresAt: now.Add(c.defaultTTL),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal inference cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, c.defaultTTL).Err()
}

// Ping checks that Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Client exposes the underlying client for health probes
func (c *RedisCache) Client() *redis.Client {
	return c.redis
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}
