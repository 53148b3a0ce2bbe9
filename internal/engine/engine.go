// Package engine is the execution-engine boundary: payload validation,
// calculated fields, routing decisions, and per-participant disclosure
// filtering. The orchestrator consumes only the Engine interface; the
// JSON-Logic implementation in this package is one provider of it.
package engine

import (
	"context"

	"github.com/registerlabs/ledgerflow/model"
)

// ValidationResult is the outcome of schema validation.
type ValidationResult struct {
	Valid  bool
	Errors []model.FieldError
}

// RoutingResult names the action(s) that become eligible after a successful
// execution. An empty NextActionIDs means the workflow is complete.
type RoutingResult struct {
	NextActionIDs []int
	Parallel      bool
}

// Complete returns the terminal routing result: no next actions.
func Complete() RoutingResult {
	return RoutingResult{}
}

// IsComplete reports whether the result is terminal.
func (r RoutingResult) IsComplete() bool {
	return len(r.NextActionIDs) == 0
}

// DisclosureResult is the subset of submitted data one participant is
// authorized to see.
type DisclosureResult struct {
	ParticipantID string
	Wildcard      bool
	Fields        []string
	Data          model.Data
}

// Engine is the consumed execution-engine contract.
type Engine interface {
	// ValidateData checks data against the action's schemas. It is only
	// called for actions that define DataSchemas; the orchestrator applies
	// the required-field fallback otherwise.
	ValidateData(ctx context.Context, data model.Data, action *model.Action) (ValidationResult, error)

	// ApplyCalculations evaluates the action's named calculations against
	// the data and merges the results back in.
	ApplyCalculations(ctx context.Context, data model.Data, action *model.Action) (model.Data, error)

	// DetermineRouting evaluates the action's routes in declaration order
	// against the post-calculation data; the first matching condition (or
	// the default route) wins.
	DetermineRouting(ctx context.Context, bp *model.Blueprint, action *model.Action, data model.Data) (RoutingResult, error)

	// ApplyDisclosures computes one result per recipient participant.
	ApplyDisclosures(data model.Data, action *model.Action) ([]DisclosureResult, error)
}
