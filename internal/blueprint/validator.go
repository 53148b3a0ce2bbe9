// Package blueprint validates blueprint definitions and anchors them on the
// register. A blueprint is immutable once published; validation happens
// exactly once, before publication.
package blueprint

import (
	"fmt"
	"sort"

	"github.com/registerlabs/ledgerflow/model"
)

// VError describes a single validation error in a blueprint.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates blueprints structurally, referentially, and for
// routing-graph acyclicity.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the blueprint. An empty slice means the blueprint is
// publishable.
func (v *Validator) Validate(bp *model.Blueprint) []VError {
	var errs []VError

	if bp.ID == "" {
		errs = append(errs, VError{Path: "id", Code: "REQUIRED", Message: "id is required"})
	}
	if bp.Title == "" {
		errs = append(errs, VError{Path: "title", Code: "REQUIRED", Message: "title is required"})
	}
	if len(bp.Participants) == 0 {
		errs = append(errs, VError{Path: "participants", Code: "REQUIRED", Message: "at least one participant is required"})
	}
	if len(bp.Actions) == 0 {
		errs = append(errs, VError{Path: "actions", Code: "REQUIRED", Message: "at least one action is required"})
		return errs
	}

	participantIDs := make(map[string]bool)
	for i, p := range bp.Participants {
		pp := fmt.Sprintf("participants[%d]", i)
		if p.ID == "" {
			errs = append(errs, VError{Path: pp + ".id", Code: "REQUIRED", Message: "participant id is required"})
			continue
		}
		if participantIDs[p.ID] {
			errs = append(errs, VError{Path: pp + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate participant id %q", p.ID)})
		}
		participantIDs[p.ID] = true
	}

	actionIDs := make(map[int]bool)
	starting := 0
	for i, a := range bp.Actions {
		ap := fmt.Sprintf("actions[%d]", i)
		if actionIDs[a.ID] {
			errs = append(errs, VError{Path: ap + ".id", Code: "DUPLICATE", Message: fmt.Sprintf("duplicate action id %d", a.ID)})
		}
		actionIDs[a.ID] = true
		if a.IsStarting {
			starting++
		}
	}
	if starting == 0 {
		errs = append(errs, VError{Path: "actions", Code: "REQUIRED", Message: "exactly one starting action is required"})
	} else if starting > 1 {
		errs = append(errs, VError{Path: "actions", Code: "INVALID", Message: "only one action may be marked as starting"})
	}

	for i, a := range bp.Actions {
		ap := fmt.Sprintf("actions[%d]", i)
		errs = append(errs, v.validateAction(ap, a, participantIDs, actionIDs)...)
	}

	errs = append(errs, v.validateGraph(bp)...)
	return errs
}

func (v *Validator) validateAction(prefix string, a model.Action, participantIDs map[string]bool, actionIDs map[int]bool) []VError {
	var errs []VError

	if a.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if a.SenderID == "" {
		errs = append(errs, VError{Path: prefix + ".sender_id", Code: "REQUIRED", Message: "sender_id is required"})
	} else if !participantIDs[a.SenderID] {
		errs = append(errs, VError{Path: prefix + ".sender_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("participant %q not found", a.SenderID)})
	}

	for i, rid := range a.RecipientIDs {
		if !participantIDs[rid] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.recipient_ids[%d]", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("participant %q not found", rid),
			})
		}
	}

	defaults := 0
	for i, r := range a.Routes {
		rp := fmt.Sprintf("%s.routes[%d]", prefix, i)
		if len(r.NextActionIDs) == 0 {
			errs = append(errs, VError{Path: rp + ".next_action_ids", Code: "REQUIRED", Message: "at least one next action is required"})
		}
		for j, next := range r.NextActionIDs {
			if !actionIDs[next] {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.next_action_ids[%d]", rp, j),
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("action %d not found", next),
				})
			}
			if next == a.ID {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("%s.next_action_ids[%d]", rp, j),
					Code:    "SELF_REFERENCE",
					Message: fmt.Sprintf("action %d routes to itself", a.ID),
				})
			}
		}
		if r.Default {
			defaults++
		}
		if !r.Default && len(r.Condition) == 0 {
			errs = append(errs, VError{Path: rp + ".condition", Code: "REQUIRED", Message: "condition is required on non-default routes"})
		}
	}
	if defaults > 1 {
		errs = append(errs, VError{Path: prefix + ".routes", Code: "INVALID", Message: "only one default route is allowed"})
	}

	for i, d := range a.Disclosures {
		dp := fmt.Sprintf("%s.disclosures[%d]", prefix, i)
		if !participantIDs[d.ParticipantID] {
			errs = append(errs, VError{Path: dp + ".participant_id", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("participant %q not found", d.ParticipantID)})
		}
		if len(d.Fields) == 0 {
			errs = append(errs, VError{Path: dp + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
		}
	}

	if a.Rejection != nil && !a.Rejection.Terminal {
		if !actionIDs[a.Rejection.TargetActionID] {
			errs = append(errs, VError{
				Path:    prefix + ".rejection.target_action_id",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("action %d not found", a.Rejection.TargetActionID),
			})
		}
	}

	return errs
}

// validateGraph runs Kahn's algorithm over the routing graph (route edges
// plus non-terminal rejection edges). Any action left with a non-zero
// in-degree after the peel sits on a cycle.
func (v *Validator) validateGraph(bp *model.Blueprint) []VError {
	edges := make(map[int][]int)
	inDegree := make(map[int]int)
	for _, a := range bp.Actions {
		if _, ok := inDegree[a.ID]; !ok {
			inDegree[a.ID] = 0
		}
		add := func(to int) {
			if to == a.ID {
				return // reported as SELF_REFERENCE already
			}
			edges[a.ID] = append(edges[a.ID], to)
			inDegree[to]++
		}
		for _, r := range a.Routes {
			for _, next := range r.NextActionIDs {
				add(next)
			}
		}
		if a.Rejection != nil && !a.Rejection.Terminal {
			add(a.Rejection.TargetActionID)
		}
	}

	queue := make([]int, 0, len(inDegree))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range edges[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if resolved == len(inDegree) {
		return nil
	}

	var cyclic []int
	for id, deg := range inDegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Ints(cyclic)

	return []VError{{
		Path:    "actions",
		Code:    "CIRCULAR_DEPENDENCY",
		Message: fmt.Sprintf("routing graph contains a cycle involving actions %v", cyclic),
	}}
}
