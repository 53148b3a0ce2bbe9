package blueprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/internal/observability"
	"github.com/registerlabs/ledgerflow/internal/resolver"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/model"
)

// PublishTxID derives the anchor transaction id for a blueprint on a
// register. Every service that needs the id of a publish transaction
// computes it the same way instead of looking it up, so the derivation is a
// cross-service contract: lowercase hex SHA-256 of
// "blueprint-publish-{registerID}-{blueprintID}".
func PublishTxID(registerID, blueprintID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("blueprint-publish-%s-%s", registerID, blueprintID)))
	return hex.EncodeToString(sum[:])
}

// Publisher validates, stores, and anchors blueprints.
type Publisher struct {
	validator  *Validator
	blueprints store.BlueprintStore
	register   ledger.RegisterClient
	cache      resolver.BlueprintCache
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// PublisherOption configures optional dependencies.
type PublisherOption func(*Publisher)

// WithMetrics sets the metric instruments publish outcomes record to.
func WithMetrics(m *observability.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a Publisher. cache may be nil.
func NewPublisher(blueprints store.BlueprintStore, register ledger.RegisterClient, cache resolver.BlueprintCache, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		validator:  NewValidator(),
		blueprints: blueprints,
		register:   register,
		cache:      cache,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates the blueprint, persists it, and anchors its definition
// on the register under the derived publish transaction id. Validation
// errors are returned as a single VALIDATION_ERROR with per-path details.
func (p *Publisher) Publish(ctx context.Context, registerID string, bp *model.Blueprint, actor string) (string, error) {
	if bp == nil {
		return "", model.NewBadRequestError("blueprint is required")
	}
	if registerID == "" {
		return "", model.NewBadRequestError("register id is required")
	}

	if verrs := p.validator.Validate(bp); len(verrs) > 0 {
		details := make([]model.FieldError, 0, len(verrs))
		for _, ve := range verrs {
			details = append(details, model.FieldError{Field: ve.Path, Code: ve.Code, Message: ve.Message})
		}
		p.recordPublish("validation_error")
		return "", model.NewValidationError("blueprint is not publishable", details)
	}

	if err := p.blueprints.Save(ctx, *bp); err != nil {
		p.recordPublish("error")
		return "", err
	}

	payload, err := json.Marshal(bp)
	if err != nil {
		return "", model.NewInternalError("serializing blueprint: " + err.Error())
	}
	if err := p.register.PublishBlueprint(ctx, registerID, bp.ID, payload, actor); err != nil {
		p.recordPublish("error")
		return "", err
	}

	if p.cache != nil {
		p.cache.Invalidate(ctx, bp.ID)
	}

	txID := PublishTxID(registerID, bp.ID)
	p.recordPublish("success")
	p.logger.Info("blueprint published",
		zap.String("blueprint_id", bp.ID),
		zap.String("register_id", registerID),
		zap.String("publish_tx_id", txID))
	return txID, nil
}

func (p *Publisher) recordPublish(status string) {
	if p.metrics != nil {
		p.metrics.RecordBlueprintPublish(status)
	}
}
