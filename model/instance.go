package model

import (
	"sort"
	"time"
)

// Instance lifecycle states. Completed and Rejected are terminal.
const (
	InstanceStateActive    = "active"
	InstanceStateCompleted = "completed"
	InstanceStateRejected  = "rejected"
)

// Branch states used when reconstructing parallel-route branches.
const (
	BranchStatusActive    = "active"
	BranchStatusCompleted = "completed"
)

// Instance is the mutable runtime record of one blueprint execution. Routing
// decisions are always derived from ledger-replayed state at the start of a
// request, so concurrent writers racing on CurrentActionIDs are tolerated
// (last write wins).
type Instance struct {
	ID               string `json:"id"`
	BlueprintID      string `json:"blueprint_id"`
	BlueprintVersion int    `json:"blueprint_version"`
	RegisterID       string `json:"register_id"`
	TenantID         string `json:"tenant_id"`
	State            string `json:"state"`

	// CurrentActionIDs is the set of currently eligible action ids. Parallel
	// routes union their successors into the set; convergence happens
	// naturally when two branches route to the same id. There is no barrier:
	// a converged action is eligible as soon as any inbound branch reaches it.
	CurrentActionIDs []int `json:"current_action_ids"`

	// ParticipantWallets may differ per instance from the blueprint defaults.
	ParticipantWallets map[string]string `json:"participant_wallets"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the action id is currently executable.
func (i *Instance) Eligible(actionID int) bool {
	for _, id := range i.CurrentActionIDs {
		if id == actionID {
			return true
		}
	}
	return false
}

// Terminal reports whether the instance has reached a final state.
func (i *Instance) Terminal() bool {
	return i.State == InstanceStateCompleted || i.State == InstanceStateRejected
}

// SetCurrentActions replaces the eligible set, deduplicating ids and marking
// the instance completed when the set becomes empty.
func (i *Instance) SetCurrentActions(actionIDs []int) {
	seen := make(map[int]bool, len(actionIDs))
	next := make([]int, 0, len(actionIDs))
	for _, id := range actionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		next = append(next, id)
	}
	i.CurrentActionIDs = next
	if len(next) == 0 {
		i.State = InstanceStateCompleted
	}
}

// AccumulatedState is the ephemeral result of replaying an instance's ledger
// history. It is rebuilt on every execution request and never persisted.
type AccumulatedState struct {
	// ActionCount is the number of transactions that contributed data.
	ActionCount int

	// Data holds decrypted payload data keyed by originating action id.
	Data map[int]Data

	// PreviousTransactionID is the id of the contributing transaction with
	// the latest timestamp; the next transaction links to it.
	PreviousTransactionID string

	// BranchID and BranchStatus are set only by branch-scoped reconstruction
	// for parallel-route scenarios.
	BranchID     string
	BranchStatus string
}

// Combined flattens the per-action data maps into one payload in ascending
// action id order, later actions overwriting earlier fields of the same name.
func (s *AccumulatedState) Combined() Data {
	ids := make([]int, 0, len(s.Data))
	for id := range s.Data {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make(Data)
	for _, id := range ids {
		out = out.Merge(s.Data[id])
	}
	return out
}

// ExecuteRequest is the submission of one action's data.
type ExecuteRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	SenderWallet   string `json:"sender_wallet"`
	Data           Data   `json:"data"`
}

// RejectRequest asks for rollback of an instance to an action's configured
// rejection target.
type RejectRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	SenderWallet   string `json:"sender_wallet"`
	Reason         string `json:"reason"`
}

// FileAttachment is one file to anchor alongside an action transaction.
type FileAttachment struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// ExecutionResult is the recorded outcome of a successful execution or
// rejection. It is what the idempotency store replays for duplicate keys.
type ExecutionResult struct {
	InstanceID    string    `json:"instance_id"`
	TransactionID string    `json:"transaction_id"`
	ActionID      int       `json:"action_id"`
	NextActionIDs []int     `json:"next_action_ids"`
	InstanceState string    `json:"instance_state"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
