// Package txbuilder assembles unsigned ledger transactions. Transaction ids
// are content-derived: the lowercase hex SHA-256 of the canonical serialized
// payload, so identical inputs always produce the same id.
package txbuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/model"
)

// Transaction type tags carried in metadata.
const (
	TypeAction    = "action"
	TypeRejection = "rejection"
	TypeFile      = "file"
)

// BuiltTransaction is an unsigned transaction ready for signing and
// submission.
type BuiltTransaction struct {
	Raw            []byte
	TxID           string
	RegisterID     string
	InstanceID     string
	Recipients     []string
	PreviousTxHash string
	MetaData       map[string]string
	Timestamp      time.Time
}

// Builder constructs transactions for the register.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder using wall-clock time.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderWithClock creates a Builder with an injected clock.
func NewBuilderWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// canonicalPayload is the serialized body the transaction id is derived
// from. Field order is fixed by the struct; payload bytes are embedded as
// base64 via encoding/json's []byte handling.
type canonicalPayload struct {
	RegisterID     string                     `json:"register_id"`
	BlueprintID    string                     `json:"blueprint_id"`
	InstanceID     string                     `json:"instance_id"`
	ActionID       string                     `json:"action_id"`
	Type           string                     `json:"type"`
	PreviousTxHash string                     `json:"previous_tx_hash,omitempty"`
	Payloads       []ledger.TransactionPayload `json:"payloads,omitempty"`
	Timestamp      int64                      `json:"timestamp"`
}

// BuildActionTransaction assembles an action transaction. When instanceID is
// empty a fresh UUID is minted, marking the first submission of a new
// instance.
func (b *Builder) BuildActionTransaction(
	registerID, blueprintID, instanceID string,
	actionID int,
	payloads []ledger.TransactionPayload,
	recipients []string,
	previousTxHash string,
) (*BuiltTransaction, error) {
	if registerID == "" {
		return nil, model.NewBadRequestError("register id is required")
	}
	if blueprintID == "" {
		return nil, model.NewBadRequestError("blueprint id is required")
	}
	if len(payloads) == 0 {
		return nil, model.NewBadRequestError("at least one payload is required")
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	ts := b.now().UTC()
	raw, txID, err := b.serialize(canonicalPayload{
		RegisterID:     registerID,
		BlueprintID:    blueprintID,
		InstanceID:     instanceID,
		ActionID:       strconv.Itoa(actionID),
		Type:           TypeAction,
		PreviousTxHash: previousTxHash,
		Payloads:       payloads,
		Timestamp:      ts.UnixNano(),
	})
	if err != nil {
		return nil, err
	}

	return &BuiltTransaction{
		Raw:            raw,
		TxID:           txID,
		RegisterID:     registerID,
		InstanceID:     instanceID,
		Recipients:     recipients,
		PreviousTxHash: previousTxHash,
		MetaData: map[string]string{
			"type":        TypeAction,
			"blueprintId": blueprintID,
			"instanceId":  instanceID,
			"actionId":    strconv.Itoa(actionID),
		},
		Timestamp: ts,
	}, nil
}

// BuildRejectionTransaction assembles a rejection transaction. Rejections
// carry no per-participant payloads; the reason travels in public metadata.
func (b *Builder) BuildRejectionTransaction(
	registerID, blueprintID, instanceID string,
	actionID int,
	rejectedTxHash, reason string,
) (*BuiltTransaction, error) {
	if registerID == "" {
		return nil, model.NewBadRequestError("register id is required")
	}
	if blueprintID == "" {
		return nil, model.NewBadRequestError("blueprint id is required")
	}
	if instanceID == "" {
		return nil, model.NewBadRequestError("instance id is required")
	}
	if rejectedTxHash == "" {
		return nil, model.NewBadRequestError("rejected transaction hash is required")
	}

	ts := b.now().UTC()
	raw, txID, err := b.serialize(canonicalPayload{
		RegisterID:     registerID,
		BlueprintID:    blueprintID,
		InstanceID:     instanceID,
		ActionID:       strconv.Itoa(actionID),
		Type:           TypeRejection,
		PreviousTxHash: rejectedTxHash,
		Timestamp:      ts.UnixNano(),
	})
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		"type":                    TypeRejection,
		"blueprintId":             blueprintID,
		"instanceId":              instanceID,
		"actionId":                strconv.Itoa(actionID),
		"rejectedTransactionHash": rejectedTxHash,
	}
	if reason != "" {
		meta["reason"] = reason
	}

	return &BuiltTransaction{
		Raw:            raw,
		TxID:           txID,
		RegisterID:     registerID,
		InstanceID:     instanceID,
		PreviousTxHash: rejectedTxHash,
		MetaData:       meta,
		Timestamp:      ts,
	}, nil
}

// BuildFileTransactions assembles one transaction per non-empty attachment,
// each linked to the parent action transaction. Zero-length files are
// skipped.
func (b *Builder) BuildFileTransactions(
	registerID, blueprintID, instanceID string,
	actionID int,
	parentTxID string,
	files []model.FileAttachment,
	encrypted [][]byte,
	recipients []string,
) ([]*BuiltTransaction, error) {
	if len(files) != len(encrypted) {
		return nil, model.NewBadRequestError("file and ciphertext counts differ")
	}

	out := make([]*BuiltTransaction, 0, len(files))
	for i, f := range files {
		if len(f.Content) == 0 {
			continue
		}

		ts := b.now().UTC()
		payloads := []ledger.TransactionPayload{{WalletAccess: recipients, Data: encrypted[i]}}
		raw, txID, err := b.serialize(canonicalPayload{
			RegisterID:     registerID,
			BlueprintID:    blueprintID,
			InstanceID:     instanceID,
			ActionID:       strconv.Itoa(actionID),
			Type:           TypeFile,
			PreviousTxHash: parentTxID,
			Payloads:       payloads,
			Timestamp:      ts.UnixNano(),
		})
		if err != nil {
			return nil, err
		}

		out = append(out, &BuiltTransaction{
			Raw:            raw,
			TxID:           txID,
			RegisterID:     registerID,
			InstanceID:     instanceID,
			Recipients:     recipients,
			PreviousTxHash: parentTxID,
			MetaData: map[string]string{
				"type":        TypeFile,
				"blueprintId": blueprintID,
				"instanceId":  instanceID,
				"actionId":    strconv.Itoa(actionID),
				"fileName":    f.FileName,
				"contentType": f.ContentType,
				"size":        strconv.Itoa(len(f.Content)),
			},
			Timestamp: ts,
		})
	}
	return out, nil
}

func (b *Builder) serialize(p canonicalPayload) ([]byte, string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, "", model.NewInternalError("serializing transaction: " + err.Error())
	}
	sum := sha256.Sum256(raw)
	return raw, hex.EncodeToString(sum[:]), nil
}

// ToActionTransactionSubmission shapes a built transaction and its signature
// into the register's submission format.
func ToActionTransactionSubmission(bt *BuiltTransaction, sig ledger.SignResult) (ledger.NetworkSubmission, error) {
	if bt == nil {
		return ledger.NetworkSubmission{}, model.NewBadRequestError("built transaction is required")
	}

	var body map[string]any
	if err := json.Unmarshal(bt.Raw, &body); err != nil {
		return ledger.NetworkSubmission{}, model.NewInternalError("decoding transaction body: " + err.Error())
	}

	sum := sha256.Sum256(bt.Raw)
	meta := make(map[string]string, len(bt.MetaData)+2)
	for k, v := range bt.MetaData {
		meta[k] = v
	}
	meta["instanceId"] = bt.InstanceID
	meta["Type"] = "Action"

	return ledger.NetworkSubmission{
		TransactionID: bt.TxID,
		RegisterID:    bt.RegisterID,
		BlueprintID:   bt.MetaData["blueprintId"],
		ActionID:      bt.MetaData["actionId"],
		Payload:       body,
		PayloadHash:   hex.EncodeToString(sum[:]),
		Signatures: []ledger.Signature{{
			PublicKey:      sig.PublicKey,
			SignatureValue: sig.Signature,
			SignedBy:       sig.SignedBy,
			Algorithm:      sig.Algorithm,
		}},
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}, nil
}
