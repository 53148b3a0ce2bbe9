package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/registerlabs/ledgerflow/model"
)

// BlueprintCache is a read-through, TTL-bounded cache of blueprint
// documents. Entries are immutable once written; invalidation happens on
// blueprint publish.
type BlueprintCache interface {
	Get(ctx context.Context, blueprintID string) (*model.Blueprint, bool)
	Set(ctx context.Context, bp model.Blueprint)
	Invalidate(ctx context.Context, blueprintID string)
}

// --- MemoryBlueprintCache ---

// MemoryBlueprintCache is an in-process BlueprintCache with TTL.
type MemoryBlueprintCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	bp        model.Blueprint
	expiresAt time.Time
}

// NewMemoryBlueprintCache creates a memory cache with the given TTL.
func NewMemoryBlueprintCache(ttl time.Duration) *MemoryBlueprintCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryBlueprintCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
	}
}

// Get implements BlueprintCache.
func (c *MemoryBlueprintCache) Get(_ context.Context, blueprintID string) (*model.Blueprint, bool) {
	c.mu.RLock()
	entry, ok := c.entries[blueprintID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, blueprintID)
		c.mu.Unlock()
		return nil, false
	}
	bp := entry.bp
	return &bp, true
}

// Set implements BlueprintCache.
func (c *MemoryBlueprintCache) Set(_ context.Context, bp model.Blueprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[bp.ID] = &cacheEntry{bp: bp, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate implements BlueprintCache.
func (c *MemoryBlueprintCache) Invalidate(_ context.Context, blueprintID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, blueprintID)
}

// --- RedisBlueprintCache ---

// RedisBlueprintCache is a Redis-backed BlueprintCache shared across engine
// replicas. Cache failures degrade to store lookups, never to request
// failures.
type RedisBlueprintCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisBlueprintCache creates a Redis cache with the given TTL.
func NewRedisBlueprintCache(client redis.Cmdable, ttl time.Duration) *RedisBlueprintCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisBlueprintCache{client: client, ttl: ttl}
}

func blueprintCacheKey(blueprintID string) string {
	return fmt.Sprintf("bp:%s", blueprintID)
}

// Get implements BlueprintCache.
func (c *RedisBlueprintCache) Get(ctx context.Context, blueprintID string) (*model.Blueprint, bool) {
	raw, err := c.client.Get(ctx, blueprintCacheKey(blueprintID)).Bytes()
	if err != nil {
		return nil, false
	}
	var bp model.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, false
	}
	return &bp, true
}

// Set implements BlueprintCache.
func (c *RedisBlueprintCache) Set(ctx context.Context, bp model.Blueprint) {
	raw, err := json.Marshal(bp)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, blueprintCacheKey(bp.ID), raw, c.ttl).Err()
}

// Invalidate implements BlueprintCache.
func (c *RedisBlueprintCache) Invalidate(ctx context.Context, blueprintID string) {
	_ = c.client.Del(ctx, blueprintCacheKey(blueprintID)).Err()
}
