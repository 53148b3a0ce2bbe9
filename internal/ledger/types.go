// Package ledger defines the contracts of the external register, wallet,
// participant directory, and notification services, plus the record formats
// flowing across them. The services themselves are opaque RPC boundaries.
package ledger

import "time"

// Transaction is a ledger-side transaction record as returned by the
// register service.
type Transaction struct {
	TxID       string               `json:"tx_id"`
	RegisterID string               `json:"register_id"`
	TimeStamp  time.Time            `json:"timestamp"`
	MetaData   TransactionMetaData  `json:"metadata"`
	Payloads   []TransactionPayload `json:"payloads"`
}

// TransactionMetaData is the public, unencrypted portion of a transaction.
type TransactionMetaData struct {
	Type        string `json:"type"`
	BlueprintID string `json:"blueprint_id,omitempty"`
	ActionID    string `json:"action_id,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
}

// TransactionPayload is one encrypted payload of a transaction, visible only
// to the wallets in its access list. Data is the encrypted bytes; the JSON
// encoding is base64 per encoding/json convention.
type TransactionPayload struct {
	WalletAccess []string `json:"wallet_access"`
	Data         []byte   `json:"data"`
}

// AccessibleBy reports whether the given wallet may decrypt the payload.
func (p TransactionPayload) AccessibleBy(wallet string) bool {
	for _, w := range p.WalletAccess {
		if w == wallet {
			return true
		}
	}
	return false
}

// SignResult is the outcome of a wallet-side signing operation.
type SignResult struct {
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
	SignedBy  string `json:"signed_by"`
	Algorithm string `json:"algorithm"`
}

// Signature is one signature record of a network submission.
type Signature struct {
	PublicKey      []byte `json:"public_key"`
	SignatureValue []byte `json:"signature_value"`
	SignedBy       string `json:"signed_by,omitempty"`
	Algorithm      string `json:"algorithm"`
}

// NetworkSubmission is the wire format the register accepts for a signed
// transaction.
type NetworkSubmission struct {
	TransactionID string            `json:"transaction_id"`
	RegisterID    string            `json:"register_id"`
	BlueprintID   string            `json:"blueprint_id"`
	ActionID      string            `json:"action_id"`
	Payload       map[string]any    `json:"payload"`
	PayloadHash   string            `json:"payload_hash"`
	Signatures    []Signature       `json:"signatures"`
	CreatedAt     time.Time         `json:"created_at"`
	Metadata      map[string]string `json:"metadata"`
}

// Participant profile statuses in the directory.
const (
	ParticipantStatusActive    = "Active"
	ParticipantStatusSuspended = "Suspended"
	ParticipantStatusRevoked   = "Revoked"
)

// ParticipantInfo is a directory record used for wallet-ownership
// authorization. It is never persisted by this engine.
type ParticipantInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	OrgID  string `json:"org_id"`
	Status string `json:"status"`
}

// LinkedWalletInfo is one wallet linked to a participant profile.
type LinkedWalletInfo struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}
