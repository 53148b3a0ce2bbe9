// Package state rebuilds an instance's accumulated state by replaying and
// decrypting its transaction chain on the register. The result is ephemeral:
// built per request, discarded after use.
package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/internal/observability"
	"github.com/registerlabs/ledgerflow/model"
)

// Reconstructor folds ledger history into an AccumulatedState.
type Reconstructor struct {
	register ledger.RegisterClient
	wallet   ledger.WalletClient
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// ReconstructorOption configures optional dependencies.
type ReconstructorOption func(*Reconstructor)

// WithMetrics sets the metric instruments the fold records to.
func WithMetrics(m *observability.Metrics) ReconstructorOption {
	return func(r *Reconstructor) { r.metrics = m }
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(register ledger.RegisterClient, wallet ledger.WalletClient, logger *zap.Logger, opts ...ReconstructorOption) *Reconstructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconstructor{register: register, wallet: wallet, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconstruct replays the instance's transactions in timestamp order,
// decrypting every payload one of the instance's wallets can open, and keys
// the decrypted data by originating action id.
//
// Individual decryption failures are logged and skipped; the fold never
// aborts on them. An empty history is valid when currentActionID is the
// blueprint's starting action.
func (r *Reconstructor) Reconstruct(
	ctx context.Context,
	bp *model.Blueprint,
	instanceID string,
	currentActionID int,
	registerID string,
	delegationToken string,
	participantWallets map[string]string,
) (_ *model.AccumulatedState, err error) {
	ctx, span := observability.StartSpan(ctx, "state.reconstruct",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrActionID.Int(currentActionID))
	defer func() { observability.EndSpanWithError(span, err) }()
	start := time.Now()

	if bp == nil {
		return nil, model.NewBadRequestError("blueprint is required")
	}
	action := bp.ActionByID(currentActionID)
	if action == nil {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("action %d not found in blueprint %q", currentActionID, bp.ID),
		)
	}

	txs, err := r.register.GetTransactionsByInstanceID(ctx, registerID, instanceID)
	if err != nil {
		return nil, err
	}

	// Timestamp order makes the fold deterministic; the latest contributing
	// transaction becomes the previous-hash link for the next submission.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].TimeStamp.Before(txs[j].TimeStamp)
	})

	acc := &model.AccumulatedState{Data: make(map[int]model.Data)}
	decryptFailures := 0
	for _, tx := range txs {
		if err := ctx.Err(); err != nil {
			// The whole accumulated state is discarded on cancellation; no
			// partial decrypted state escapes.
			return nil, err
		}

		data, ok, failed := r.decryptTransaction(ctx, tx, delegationToken, participantWallets)
		decryptFailures += failed
		if !ok {
			continue
		}

		actionID, err := strconv.Atoi(tx.MetaData.ActionID)
		if err != nil {
			r.logger.Warn("transaction with unparsable action id skipped",
				zap.String("tx_id", tx.TxID),
				zap.String("action_id", tx.MetaData.ActionID))
			continue
		}

		if existing, ok := acc.Data[actionID]; ok {
			acc.Data[actionID] = existing.Merge(data)
		} else {
			acc.Data[actionID] = data
		}
		acc.ActionCount++
		acc.PreviousTransactionID = tx.TxID
	}

	if acc.ActionCount == 0 && !action.IsStarting {
		r.logger.Debug("no prior state reconstructed for non-starting action",
			zap.String("instance_id", instanceID),
			zap.Int("action_id", currentActionID))
	}

	if r.metrics != nil {
		r.metrics.RecordReconstruction(time.Since(start), acc.ActionCount, decryptFailures)
	}
	return acc, nil
}

// ReconstructForBranch reconstructs as Reconstruct does and tags the result
// with the branch id and an active branch status for parallel-route
// scenarios.
func (r *Reconstructor) ReconstructForBranch(
	ctx context.Context,
	bp *model.Blueprint,
	instanceID string,
	currentActionID int,
	registerID string,
	delegationToken string,
	participantWallets map[string]string,
	branchID string,
) (*model.AccumulatedState, error) {
	acc, err := r.Reconstruct(ctx, bp, instanceID, currentActionID, registerID, delegationToken, participantWallets)
	if err != nil {
		return nil, err
	}
	acc.BranchID = branchID
	acc.BranchStatus = model.BranchStatusActive
	return acc, nil
}

// decryptTransaction tries each payload of the transaction against the
// instance's wallets and returns the merged decrypted data plus the number
// of payloads skipped due to decryption failure. A transaction with no
// decryptable payload contributes nothing.
func (r *Reconstructor) decryptTransaction(
	ctx context.Context,
	tx ledger.Transaction,
	delegationToken string,
	participantWallets map[string]string,
) (model.Data, bool, int) {
	var merged model.Data
	failures := 0
	for _, p := range tx.Payloads {
		wallet, ok := accessibleWallet(p, participantWallets)
		if !ok {
			continue
		}

		plaintext, err := r.wallet.DecryptWithDelegation(ctx, wallet, p.Data, delegationToken)
		if err != nil {
			r.logger.Warn("payload decryption failed, skipping",
				zap.String("tx_id", tx.TxID),
				zap.String("wallet", wallet),
				zap.Error(err))
			failures++
			continue
		}

		data, err := model.DataFromJSON(plaintext)
		if err != nil {
			r.logger.Warn("decrypted payload is not a JSON object, skipping",
				zap.String("tx_id", tx.TxID),
				zap.Error(err))
			continue
		}

		if merged == nil {
			merged = data
		} else {
			merged = merged.Merge(data)
		}
	}
	return merged, merged != nil, failures
}

// accessibleWallet returns the first instance wallet present in the
// payload's access list.
func accessibleWallet(p ledger.TransactionPayload, participantWallets map[string]string) (string, bool) {
	for _, wallet := range participantWallets {
		if p.AccessibleBy(wallet) {
			return wallet, true
		}
	}
	return "", false
}
