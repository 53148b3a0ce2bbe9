// Package store defines the persistence contracts consumed by the engine:
// instance records, blueprint documents, and idempotency results.
package store

import (
	"context"
	"time"

	"github.com/registerlabs/ledgerflow/model"
)

// InstanceStore persists workflow instances.
type InstanceStore interface {
	// Get returns the instance by id, or a NOT_FOUND envelope.
	Get(ctx context.Context, instanceID string) (model.Instance, error)

	// Create inserts a new instance.
	Create(ctx context.Context, inst model.Instance) error

	// Update persists an updated instance. Implementations use optimistic
	// locking on Version; a stale write yields CONFLICT. Callers derive
	// routing from ledger-replayed state, so retry-on-conflict is safe.
	Update(ctx context.Context, inst model.Instance) error
}

// BlueprintStore persists blueprint documents by id.
type BlueprintStore interface {
	// Get returns the blueprint by id, or a NOT_FOUND envelope.
	Get(ctx context.Context, blueprintID string) (model.Blueprint, error)

	// Save upserts a blueprint.
	Save(ctx context.Context, bp model.Blueprint) error
}

// ResultStore provides at-most-once execution per idempotency key.
// The key format is "exec:{instanceId}:{key}".
type ResultStore interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the recorded result. If the key exists
	// but the hash differs, it returns a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (result *model.ExecutionResult, found bool, err error)

	// Store records an execution result keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key string, inputHash string, result model.ExecutionResult, ttl time.Duration) error
}
