// Package payload turns per-participant disclosure results into encrypted
// transaction payloads, and aggregates historical payload data back out of
// the ledger for callers that hold a wallet with access.
package payload

import (
	"context"

	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/engine"
	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/model"
)

// Resolver encrypts outgoing payloads and decrypts historical ones.
type Resolver struct {
	register ledger.RegisterClient
	wallet   ledger.WalletClient
	logger   *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(register ledger.RegisterClient, wallet ledger.WalletClient, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{register: register, wallet: wallet, logger: logger}
}

// CreateEncryptedPayloads serializes each disclosure's data slice and
// encrypts it for the recipient's wallet. Participants without a wallet in
// the instance's map are skipped with a log line; they simply receive no
// payload. The payload's access list names the one wallet that can open it.
func (r *Resolver) CreateEncryptedPayloads(
	ctx context.Context,
	disclosures []engine.DisclosureResult,
	participantWallets map[string]string,
) ([]ledger.TransactionPayload, error) {
	if len(disclosures) == 0 {
		return nil, model.NewBadRequestError("at least one disclosure is required")
	}
	if len(participantWallets) == 0 {
		return nil, model.NewBadRequestError("participant wallet map is required")
	}

	payloads := make([]ledger.TransactionPayload, 0, len(disclosures))
	for _, d := range disclosures {
		wallet, ok := participantWallets[d.ParticipantID]
		if !ok || wallet == "" {
			r.logger.Warn("participant has no wallet, skipping payload",
				zap.String("participant_id", d.ParticipantID))
			continue
		}

		plaintext, err := d.Data.ToJSON()
		if err != nil {
			return nil, model.NewInternalError("serializing disclosure data: " + err.Error())
		}

		ciphertext, err := r.wallet.EncryptPayload(ctx, wallet, plaintext)
		if err != nil {
			return nil, err
		}

		payloads = append(payloads, ledger.TransactionPayload{
			WalletAccess: []string{wallet},
			Data:         ciphertext,
		})
	}
	return payloads, nil
}

// AggregateHistoricalData fetches the named transactions and merges every
// field the wallet can decrypt into one flat map. When fields is non-empty
// only those field names survive the merge. An empty txIDs list yields an
// empty map, not an error.
func (r *Resolver) AggregateHistoricalData(
	ctx context.Context,
	registerID string,
	txIDs []string,
	wallet string,
	fields []string,
) (model.Data, error) {
	if wallet == "" {
		return nil, model.NewBadRequestError("wallet is required")
	}

	merged := make(model.Data)
	for _, txID := range txIDs {
		tx, err := r.register.GetTransaction(ctx, registerID, txID)
		if err != nil {
			return nil, err
		}

		for _, p := range tx.Payloads {
			if !p.AccessibleBy(wallet) {
				continue
			}

			plaintext, err := r.wallet.DecryptPayload(ctx, wallet, p.Data)
			if err != nil {
				r.logger.Warn("historical payload decryption failed, skipping",
					zap.String("tx_id", tx.TxID),
					zap.Error(err))
				continue
			}

			data, err := model.DataFromJSON(plaintext)
			if err != nil {
				r.logger.Warn("historical payload is not a JSON object, skipping",
					zap.String("tx_id", tx.TxID),
					zap.Error(err))
				continue
			}
			merged = merged.Merge(data)
		}
	}

	if len(fields) > 0 {
		merged = merged.Pick(fields)
	}
	return merged, nil
}
