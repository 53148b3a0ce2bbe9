package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/registerlabs/ledgerflow/model"
)

// resultEntry is the stored value for an idempotency key.
type resultEntry struct {
	InputHash string                `json:"input_hash"`
	Result    model.ExecutionResult `json:"result"`
}

// FormatResultKey builds the standard idempotency key.
func FormatResultKey(instanceID, key string) string {
	return fmt.Sprintf("exec:%s:%s", instanceID, key)
}

// --- MemoryResultStore ---

// MemoryResultStore is an in-memory ResultStore with TTL support.
type MemoryResultStore struct {
	mu      sync.RWMutex
	entries map[string]*memResult
}

type memResult struct {
	data      resultEntry
	expiresAt time.Time
}

// NewMemoryResultStore creates a new in-memory result store.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{entries: make(map[string]*memResult)}
}

// Check looks up a recorded result. Returns CONFLICT if the input hash differs.
func (s *MemoryResultStore) Check(_ context.Context, key string, inputHash string) (*model.ExecutionResult, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	result := entry.data.Result
	return &result, true, nil
}

// Store saves a result with TTL. The first write for a key wins: when two
// concurrent requests with the same key both pass the check, the result that
// later replays is the one recorded first, not whichever finished last.
func (s *MemoryResultStore) Store(_ context.Context, key string, inputHash string, result model.ExecutionResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && time.Now().Before(existing.expiresAt) {
		return nil
	}
	s.entries[key] = &memResult{
		data:      resultEntry{InputHash: inputHash, Result: result},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisResultStore ---

// RedisResultStore is a Redis-backed ResultStore with TTL.
type RedisResultStore struct {
	client redis.Cmdable
}

// NewRedisResultStore creates a new Redis-backed result store.
func NewRedisResultStore(client redis.Cmdable) *RedisResultStore {
	return &RedisResultStore{client: client}
}

// Check looks up a recorded result in Redis. Returns CONFLICT if the input
// hash differs.
func (s *RedisResultStore) Check(ctx context.Context, key string, inputHash string) (*model.ExecutionResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry resultEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal result entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &entry.Result, true, nil
}

// Store saves a result in Redis with TTL. SetNX keeps the first write for a
// key; a concurrent request that also passed the check cannot overwrite the
// recorded result.
func (s *RedisResultStore) Store(ctx context.Context, key string, inputHash string, result model.ExecutionResult, ttl time.Duration) error {
	entry := resultEntry{InputHash: inputHash, Result: result}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal result entry: %w", err)
	}

	if err := s.client.SetNX(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return nil
}
