package blueprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registerlabs/ledgerflow/model"
)

// validBlueprint is a linear two-step workflow that passes every check.
func validBlueprint() *model.Blueprint {
	return &model.Blueprint{
		ID:    "bp-1",
		Title: "Purchase Order",
		Participants: []model.Participant{
			{ID: "buyer", Name: "Buyer", WalletAddress: "wallet-buyer"},
			{ID: "seller", Name: "Seller", WalletAddress: "wallet-seller"},
		},
		Actions: []model.Action{
			{
				ID: 1, Title: "Submit Order", SenderID: "buyer", IsStarting: true,
				Routes: []model.Route{{NextActionIDs: []int{2}, Default: true}},
			},
			{ID: 2, Title: "Confirm Order", SenderID: "seller"},
		},
	}
}

func codes(errs []VError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidate_ValidBlueprint(t *testing.T) {
	errs := NewValidator().Validate(validBlueprint())
	assert.Empty(t, errs)
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	errs := NewValidator().Validate(&model.Blueprint{})
	got := codes(errs)
	assert.Contains(t, got, "REQUIRED")
	// id, title, participants, actions all missing.
	assert.Len(t, errs, 4)
}

func TestValidate_DuplicateIDs(t *testing.T) {
	bp := validBlueprint()
	bp.Participants = append(bp.Participants, model.Participant{ID: "buyer", Name: "Impostor"})
	bp.Actions = append(bp.Actions, model.Action{ID: 2, Title: "Shadow", SenderID: "seller"})

	errs := NewValidator().Validate(bp)
	assert.Contains(t, codes(errs), "DUPLICATE")
}

func TestValidate_ExactlyOneStartingAction(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[1].IsStarting = true
	errs := NewValidator().Validate(bp)
	assert.Contains(t, codes(errs), "INVALID")

	bp = validBlueprint()
	bp.Actions[0].IsStarting = false
	errs = NewValidator().Validate(bp)
	assert.Contains(t, codes(errs), "REQUIRED")
}

func TestValidate_UnknownReferences(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[0].SenderID = "ghost"
	bp.Actions[0].RecipientIDs = []string{"phantom"}
	bp.Actions[0].Routes = []model.Route{{NextActionIDs: []int{42}, Default: true}}
	bp.Actions[1].Disclosures = []model.Disclosure{{ParticipantID: "spectre", Fields: []string{"*"}}}

	errs := NewValidator().Validate(bp)
	refErrs := 0
	for _, e := range errs {
		if e.Code == "REF_NOT_FOUND" {
			refErrs++
		}
	}
	assert.Equal(t, 4, refErrs)
}

func TestValidate_NonDefaultRouteNeedsCondition(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[0].Routes = []model.Route{{NextActionIDs: []int{2}}}

	errs := NewValidator().Validate(bp)
	require.NotEmpty(t, errs)
	assert.Equal(t, "actions[0].routes[0].condition", errs[0].Path)
}

func TestValidate_SelfReference(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[0].Routes = []model.Route{{NextActionIDs: []int{1}, Default: true}}

	errs := NewValidator().Validate(bp)
	require.NotEmpty(t, errs)
	assert.Contains(t, codes(errs), "SELF_REFERENCE")
	assert.Contains(t, errs[0].Message, "action 1")
}

func TestValidate_CircularDependency(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[1].Routes = []model.Route{{NextActionIDs: []int{3}, Default: true}}
	bp.Actions = append(bp.Actions, model.Action{
		ID: 3, Title: "Loop Back", SenderID: "buyer",
		Routes: []model.Route{{NextActionIDs: []int{2}, Default: true}},
	})

	errs := NewValidator().Validate(bp)
	require.Len(t, errs, 1)
	assert.Equal(t, "CIRCULAR_DEPENDENCY", errs[0].Code)
	assert.Contains(t, errs[0].Message, "[2 3]")
}

func TestValidate_RejectionBackEdgeFormsCycle(t *testing.T) {
	// A non-terminal rejection target pointing back to an upstream action
	// closes a loop with the forward route and must fail publication.
	bp := validBlueprint()
	bp.Actions[1].Rejection = &model.RejectionConfig{TargetActionID: 1}

	errs := NewValidator().Validate(bp)
	require.Len(t, errs, 1)
	assert.Equal(t, "CIRCULAR_DEPENDENCY", errs[0].Code)
}

func TestValidate_TerminalRejectionIsNotAnEdge(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[1].Rejection = &model.RejectionConfig{Terminal: true, RequireReason: true}

	errs := NewValidator().Validate(bp)
	assert.Empty(t, errs)
}

func TestValidate_DiamondGraphPasses(t *testing.T) {
	bp := &model.Blueprint{
		ID:    "bp-diamond",
		Title: "Parallel Approval",
		Participants: []model.Participant{
			{ID: "requester", Name: "Requester"},
			{ID: "finance", Name: "Finance"},
			{ID: "legal", Name: "Legal"},
		},
		Actions: []model.Action{
			{
				ID: 1, Title: "Request", SenderID: "requester", IsStarting: true,
				Routes: []model.Route{{NextActionIDs: []int{2, 3}, Default: true}},
			},
			{
				ID: 2, Title: "Finance Review", SenderID: "finance",
				Routes: []model.Route{{NextActionIDs: []int{4}, Default: true}},
			},
			{
				ID: 3, Title: "Legal Review", SenderID: "legal",
				Routes: []model.Route{{NextActionIDs: []int{4}, Default: true}},
			},
			{ID: 4, Title: "Finalize", SenderID: "requester"},
		},
	}

	errs := NewValidator().Validate(bp)
	assert.Empty(t, errs)
}

func TestValidate_ConditionalRoutes(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[0].Routes = []model.Route{
		{NextActionIDs: []int{2}, Condition: json.RawMessage(`{">": [{"var": "amount"}, 100]}`)},
		{NextActionIDs: []int{2}, Default: true},
	}

	errs := NewValidator().Validate(bp)
	assert.Empty(t, errs)
}

func TestValidate_MultipleDefaultRoutes(t *testing.T) {
	bp := validBlueprint()
	bp.Actions[0].Routes = []model.Route{
		{NextActionIDs: []int{2}, Default: true},
		{NextActionIDs: []int{2}, Default: true},
	}

	errs := NewValidator().Validate(bp)
	assert.Contains(t, codes(errs), "INVALID")
}
