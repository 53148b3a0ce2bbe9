package model

import "encoding/json"

// Blueprint is an immutable, versioned multi-party workflow definition.
// Action IDs are unique within a blueprint; publish validation enforces this.
type Blueprint struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Version      int           `json:"version"`
	Participants []Participant `json:"participants"`
	Actions      []Action      `json:"actions"`
}

// Participant is one party of a blueprint.
type Participant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
}

// Action is one step in a blueprint.
type Action struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	SenderID  string `json:"sender_id"`
	// Additional recipient participant ids beyond the sender.
	RecipientIDs []string `json:"recipient_ids,omitempty"`
	IsStarting   bool     `json:"is_starting,omitempty"`

	// DataSchemas are JSON-Schema documents the submitted payload must
	// satisfy. When absent, RequiredFields is the fallback validation.
	DataSchemas    []json.RawMessage `json:"data_schemas,omitempty"`
	RequiredFields []string          `json:"required_fields,omitempty"`

	// Calculations maps result field names to JSON-Logic expressions
	// evaluated against the combined accumulated and submitted data.
	Calculations map[string]json.RawMessage `json:"calculations,omitempty"`

	// Routes are evaluated in declaration order; the first matching
	// condition (or the default route) wins.
	Routes []Route `json:"routes,omitempty"`

	// Disclosures restrict which fields each participant may see. An action
	// without disclosures discloses all fields to all its recipients.
	Disclosures []Disclosure `json:"disclosures,omitempty"`

	Rejection *RejectionConfig `json:"rejection,omitempty"`
}

// Route points at the next action(s) when its condition holds.
type Route struct {
	NextActionIDs []int           `json:"next_action_ids"`
	Default       bool            `json:"default,omitempty"`
	Condition     json.RawMessage `json:"condition,omitempty"`
}

// Disclosure grants a participant visibility of a subset of fields.
// A single "*" entry is the full wildcard. An optional JSON-Logic condition
// gates the grant on the submitted data.
type Disclosure struct {
	ParticipantID string          `json:"participant_id"`
	Fields        []string        `json:"fields"`
	Condition     json.RawMessage `json:"condition,omitempty"`
}

// Wildcard reports whether the disclosure grants every field.
func (d Disclosure) Wildcard() bool {
	return len(d.Fields) == 1 && d.Fields[0] == "*"
}

// RejectionConfig describes the rollback path of an action. Actions without
// one cannot be rejected.
type RejectionConfig struct {
	TargetActionID int  `json:"target_action_id"`
	RequireReason  bool `json:"require_reason,omitempty"`
	Terminal       bool `json:"terminal,omitempty"`
}

// ActionByID returns the action with the given id, or nil.
func (b *Blueprint) ActionByID(id int) *Action {
	for i := range b.Actions {
		if b.Actions[i].ID == id {
			return &b.Actions[i]
		}
	}
	return nil
}

// StartingAction returns the first action flagged as starting, or nil.
func (b *Blueprint) StartingAction() *Action {
	for i := range b.Actions {
		if b.Actions[i].IsStarting {
			return &b.Actions[i]
		}
	}
	return nil
}

// ParticipantByID returns the participant with the given id, or nil.
func (b *Blueprint) ParticipantByID(id string) *Participant {
	for i := range b.Participants {
		if b.Participants[i].ID == id {
			return &b.Participants[i]
		}
	}
	return nil
}

// ParticipantWallets returns the blueprint's default participant-id to
// wallet-address map, skipping participants without a wallet.
func (b *Blueprint) ParticipantWallets() map[string]string {
	out := make(map[string]string, len(b.Participants))
	for _, p := range b.Participants {
		if p.WalletAddress != "" {
			out[p.ID] = p.WalletAddress
		}
	}
	return out
}

// RecipientIDsFor returns the participant ids that receive the output of the
// action: its sender plus any additional recipients, deduplicated.
func (a *Action) RecipientIDsFor() []string {
	seen := make(map[string]bool, len(a.RecipientIDs)+1)
	out := make([]string, 0, len(a.RecipientIDs)+1)
	if a.SenderID != "" {
		seen[a.SenderID] = true
		out = append(out, a.SenderID)
	}
	for _, id := range a.RecipientIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
