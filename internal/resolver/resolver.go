// Package resolver loads blueprints cache-first and resolves action and
// participant references inside them.
package resolver

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/observability"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/model"
)

// Resolver answers blueprint, action, and participant lookups for the
// orchestrator.
type Resolver struct {
	blueprints store.BlueprintStore
	cache      BlueprintCache
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// Option configures optional dependencies.
type Option func(*Resolver)

// WithMetrics sets the metric instruments cache lookups record to.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver. The cache may be nil to disable caching.
func New(blueprints store.BlueprintStore, cache BlueprintCache, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{blueprints: blueprints, cache: cache, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetBlueprint returns the blueprint by id, consulting the cache first and
// populating it on a store hit.
func (r *Resolver) GetBlueprint(ctx context.Context, blueprintID string) (model.Blueprint, error) {
	if blueprintID == "" {
		return model.Blueprint{}, model.NewBadRequestError("blueprint id is required")
	}

	if r.cache != nil {
		if bp, ok := r.cache.Get(ctx, blueprintID); ok {
			if r.metrics != nil {
				r.metrics.RecordBlueprintCache(true)
			}
			r.logger.Debug("blueprint cache hit", zap.String("blueprint_id", blueprintID))
			return *bp, nil
		}
		if r.metrics != nil {
			r.metrics.RecordBlueprintCache(false)
		}
	}

	bp, err := r.blueprints.Get(ctx, blueprintID)
	if err != nil {
		return model.Blueprint{}, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, bp)
	}
	return bp, nil
}

// ActionDefinition resolves a textual action identifier within a blueprint.
// An unparsable id or an id with no matching action yields (nil, nil); only
// malformed arguments are errors.
func (r *Resolver) ActionDefinition(bp *model.Blueprint, actionIDText string) (*model.Action, error) {
	if bp == nil {
		return nil, model.NewBadRequestError("blueprint is required")
	}
	if actionIDText == "" {
		return nil, model.NewBadRequestError("action id is required")
	}

	id, err := strconv.Atoi(actionIDText)
	if err != nil {
		return nil, nil
	}
	return bp.ActionByID(id), nil
}

// ParticipantWallets maps participant ids to wallet addresses from the
// blueprint. Ids with no matching participant or no wallet address are
// silently skipped.
func (r *Resolver) ParticipantWallets(bp *model.Blueprint, participantIDs []string) map[string]string {
	out := make(map[string]string, len(participantIDs))
	if bp == nil {
		return out
	}
	for _, id := range participantIDs {
		p := bp.ParticipantByID(id)
		if p == nil || p.WalletAddress == "" {
			continue
		}
		out[id] = p.WalletAddress
	}
	return out
}
