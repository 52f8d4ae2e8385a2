package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mri-screening-server/internal/domain"
)

// MemoryCache is an in-process LRU with per-entry TTL, used by the lite server.
type MemoryCache struct {
	lru *expirable.LRU[string, *domain.InferenceResult]
}

// NewMemoryCache creates a cache holding at most maxItems results for ttl each.
func NewMemoryCache(maxItems int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: expirable.NewLRU[string, *domain.InferenceResult](maxItems, nil, ttl),
	}
}

// Get returns a copy of the cached result.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.InferenceResult, bool, error) {
	val, ok := c.lru.Get(key)
	if !ok {
		cacheMissesTotal.WithLabelValues("memory").Inc()
		return nil, false, nil
	}
	cacheHitsTotal.WithLabelValues("memory").Inc()
	out := *val
	return &out, true, nil
}

// Set stores a copy of result.
func (c *MemoryCache) Set(_ context.Context, key string, result *domain.InferenceResult) error {
	stored := *result
	c.lru.Add(key, &stored)
	return nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
