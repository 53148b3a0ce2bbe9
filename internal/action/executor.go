// Package action orchestrates the execution of blueprint actions: a
// sequential pipeline from idempotency check through authorization, state
// reconstruction, validation, calculation, routing, disclosure, encryption,
// transaction build, sign-and-submit, and finally instance update. Any stage
// may short-circuit with a typed failure; no ledger write happens before the
// final submit succeeds.
package action

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/blueprint"
	"github.com/registerlabs/ledgerflow/internal/engine"
	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/internal/observability"
	"github.com/registerlabs/ledgerflow/internal/payload"
	"github.com/registerlabs/ledgerflow/internal/resolver"
	"github.com/registerlabs/ledgerflow/internal/state"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/internal/txbuilder"
	"github.com/registerlabs/ledgerflow/model"
)

// Executor runs the action execution and rejection pipelines.
type Executor struct {
	instances     store.InstanceStore
	blueprints    *resolver.Resolver
	results       store.ResultStore
	reconstructor *state.Reconstructor
	engine        engine.Engine
	payloads      *payload.Resolver
	builder       *txbuilder.Builder
	register      ledger.RegisterClient
	wallet        ledger.WalletClient
	directory     ledger.ParticipantDirectory
	notifier      ledger.Notifier
	resultTTL     time.Duration
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// ExecutorOption configures optional dependencies.
type ExecutorOption func(*Executor)

// WithNotifier sets the participant notifier.
func WithNotifier(n ledger.Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// WithResultTTL sets how long recorded idempotency results live.
func WithResultTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) { e.resultTTL = ttl }
}

// WithMetrics sets the metric instruments the pipeline records to.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an Executor with its required dependencies.
func NewExecutor(
	instances store.InstanceStore,
	blueprints *resolver.Resolver,
	results store.ResultStore,
	reconstructor *state.Reconstructor,
	eng engine.Engine,
	payloads *payload.Resolver,
	builder *txbuilder.Builder,
	register ledger.RegisterClient,
	wallet ledger.WalletClient,
	directory ledger.ParticipantDirectory,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		instances:     instances,
		blueprints:    blueprints,
		results:       results,
		reconstructor: reconstructor,
		engine:        eng,
		payloads:      payloads,
		builder:       builder,
		register:      register,
		wallet:        wallet,
		directory:     directory,
		resultTTL:     24 * time.Hour,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// loaded is the output of the shared load-and-check stages.
type loaded struct {
	instance model.Instance
	bp       model.Blueprint
	action   *model.Action
}

// Execute runs the full execution pipeline for one action submission. The
// caller principal is taken from the context; delegationToken authorizes
// historical payload decryption on the caller's behalf.
func (e *Executor) Execute(
	ctx context.Context,
	instanceID string,
	actionID int,
	req model.ExecuteRequest,
	delegationToken string,
) (_ *model.ExecutionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "executor.execute",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrActionID.Int(actionID))
	defer func() { observability.EndSpanWithError(span, err) }()
	start := time.Now()

	if instanceID == "" {
		return nil, model.NewBadRequestError("instance id is required")
	}
	if req.SenderWallet == "" {
		return nil, model.NewBadRequestError("sender wallet is required")
	}
	if req.Data == nil {
		return nil, model.NewBadRequestError("data is required")
	}

	// Step 1: Idempotency check. A repeated key replays the recorded result;
	// a repeated key with different input fails with a conflict. The action
	// id is part of the input hash, so reusing a key for another action on
	// the same instance also conflicts instead of replaying the wrong result.
	idemKey := ""
	inputHash := ""
	if req.IdempotencyKey != "" && e.results != nil {
		idemKey = store.FormatResultKey(instanceID, req.IdempotencyKey)
		inputHash = hashExecuteInput(actionID, req)
		cached, found, cerr := e.results.Check(ctx, idemKey, inputHash)
		if cerr != nil {
			return nil, cerr
		}
		if found && cached != nil {
			if e.metrics != nil {
				e.metrics.IdempotentReplays.Inc()
			}
			return cached, nil
		}
	}

	// Steps 2-3: Load instance, blueprint, action; check eligibility.
	ld, err := e.load(ctx, instanceID, actionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(observability.AttrBlueprintID.String(ld.bp.ID))
	defer func() {
		if e.metrics == nil {
			return
		}
		status := "success"
		if err != nil {
			status = model.CodeOf(err)
		}
		e.metrics.RecordExecution(ld.bp.ID, status, time.Since(start))
	}()

	// Step 4: Wallet-ownership authorization.
	if err := e.authorizeWallet(ctx, model.PrincipalFrom(ctx), req.SenderWallet); err != nil {
		return nil, err
	}

	// Step 5: Reconstruct accumulated state from the ledger.
	acc, err := e.reconstructor.Reconstruct(ctx, &ld.bp, instanceID, actionID,
		ld.instance.RegisterID, delegationToken, ld.instance.ParticipantWallets)
	if err != nil {
		return nil, err
	}

	// Step 6: Validate the submitted data.
	if err := e.validate(ctx, ld.action, req.Data); err != nil {
		if e.metrics != nil && model.CodeOf(err) == model.ErrValidationError {
			e.metrics.RecordValidationFailure(ld.bp.ID)
		}
		return nil, err
	}

	// Step 7: Apply calculations over accumulated plus submitted data.
	combined := acc.Combined().Merge(req.Data)
	calculated, err := e.engine.ApplyCalculations(ctx, combined, ld.action)
	if err != nil {
		return nil, err
	}

	// Step 8: Determine routing from the post-calculation data.
	routing, err := e.engine.DetermineRouting(ctx, &ld.bp, ld.action, calculated)
	if err != nil {
		return nil, err
	}

	// Step 9: Apply disclosures.
	disclosures, err := e.engine.ApplyDisclosures(calculated, ld.action)
	if err != nil {
		return nil, err
	}

	// Step 10: Encrypt one payload per disclosed participant.
	encrypted, err := e.payloads.CreateEncryptedPayloads(ctx, disclosures, ld.instance.ParticipantWallets)
	if err != nil {
		return nil, err
	}

	// Step 11: Build the transaction, linked to the previous transaction or,
	// on the instance's first submission, to the blueprint's publish
	// transaction.
	prevTx := acc.PreviousTransactionID
	if prevTx == "" {
		prevTx = blueprint.PublishTxID(ld.instance.RegisterID, ld.bp.ID)
	}
	bt, err := e.builder.BuildActionTransaction(
		ld.instance.RegisterID, ld.bp.ID, instanceID, actionID,
		encrypted, recipientWallets(ld.action, ld.instance.ParticipantWallets), prevTx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(observability.AttrTxID.String(bt.TxID))

	// Step 12: Sign with the sender's wallet and submit to the register.
	sig, err := e.wallet.Sign(ctx, req.SenderWallet, bt.Raw)
	if err != nil {
		return nil, err
	}
	submission, err := txbuilder.ToActionTransactionSubmission(bt, sig)
	if err != nil {
		return nil, err
	}
	if err := e.register.Submit(ctx, submission); err != nil {
		return nil, err
	}

	// Step 13: Apply the routing to the instance, record the idempotency
	// result, and notify the next participants.
	inst, err := e.applyRouting(ctx, ld.instance, actionID, routing)
	if err != nil {
		return nil, err
	}

	result := model.ExecutionResult{
		InstanceID:    instanceID,
		TransactionID: bt.TxID,
		ActionID:      actionID,
		NextActionIDs: inst.CurrentActionIDs,
		InstanceState: inst.State,
		SubmittedAt:   bt.Timestamp,
	}

	if idemKey != "" {
		if err := e.results.Store(ctx, idemKey, inputHash, result, e.resultTTL); err != nil {
			e.logger.Warn("recording idempotency result failed", zap.Error(err))
		}
	}

	e.notifyNext(ctx, &ld.bp, inst)

	e.logger.Info("action executed",
		zap.String("instance_id", instanceID),
		zap.Int("action_id", actionID),
		zap.String("tx_id", bt.TxID),
		zap.Ints("next_action_ids", inst.CurrentActionIDs))
	return &result, nil
}

// Reject rolls the instance back to the action's configured rejection
// target, or to a terminal rejected state.
func (e *Executor) Reject(
	ctx context.Context,
	instanceID string,
	actionID int,
	req model.RejectRequest,
	delegationToken string,
) (_ *model.ExecutionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "executor.reject",
		observability.AttrInstanceID.String(instanceID),
		observability.AttrActionID.Int(actionID))
	defer func() { observability.EndSpanWithError(span, err) }()

	if instanceID == "" {
		return nil, model.NewBadRequestError("instance id is required")
	}
	if req.SenderWallet == "" {
		return nil, model.NewBadRequestError("sender wallet is required")
	}

	idemKey := ""
	inputHash := ""
	if req.IdempotencyKey != "" && e.results != nil {
		idemKey = store.FormatResultKey(instanceID, req.IdempotencyKey)
		inputHash = hashRejectInput(actionID, req)
		cached, found, cerr := e.results.Check(ctx, idemKey, inputHash)
		if cerr != nil {
			return nil, cerr
		}
		if found && cached != nil {
			if e.metrics != nil {
				e.metrics.IdempotentReplays.Inc()
			}
			return cached, nil
		}
	}

	ld, err := e.load(ctx, instanceID, actionID)
	if err != nil {
		return nil, err
	}

	cfg := ld.action.Rejection
	if cfg == nil {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("action %d does not permit rejection", actionID))
	}
	if cfg.RequireReason && req.Reason == "" {
		return nil, model.NewValidationErrorMsg("a reason is required to reject this action")
	}
	if !cfg.Terminal && ld.bp.ActionByID(cfg.TargetActionID) == nil {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("rejection target action %d not found in blueprint %q", cfg.TargetActionID, ld.bp.ID))
	}

	if err := e.authorizeWallet(ctx, model.PrincipalFrom(ctx), req.SenderWallet); err != nil {
		return nil, err
	}

	// The rejected transaction is the latest contributing one; with no prior
	// submissions the rejection links to the blueprint publish transaction.
	acc, err := e.reconstructor.Reconstruct(ctx, &ld.bp, instanceID, actionID,
		ld.instance.RegisterID, delegationToken, ld.instance.ParticipantWallets)
	if err != nil {
		return nil, err
	}
	rejectedTx := acc.PreviousTransactionID
	if rejectedTx == "" {
		rejectedTx = blueprint.PublishTxID(ld.instance.RegisterID, ld.bp.ID)
	}

	bt, err := e.builder.BuildRejectionTransaction(
		ld.instance.RegisterID, ld.bp.ID, instanceID, actionID, rejectedTx, req.Reason)
	if err != nil {
		return nil, err
	}

	sig, err := e.wallet.Sign(ctx, req.SenderWallet, bt.Raw)
	if err != nil {
		return nil, err
	}
	submission, err := txbuilder.ToActionTransactionSubmission(bt, sig)
	if err != nil {
		return nil, err
	}
	if err := e.register.Submit(ctx, submission); err != nil {
		return nil, err
	}

	inst := ld.instance
	if cfg.Terminal {
		inst.CurrentActionIDs = nil
		inst.State = model.InstanceStateRejected
	} else {
		inst.SetCurrentActions([]int{cfg.TargetActionID})
	}
	inst.UpdatedAt = time.Now().UTC()
	if err := e.instances.Update(ctx, inst); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordRejection(ld.bp.ID, cfg.Terminal)
	}

	result := model.ExecutionResult{
		InstanceID:    instanceID,
		TransactionID: bt.TxID,
		ActionID:      actionID,
		NextActionIDs: inst.CurrentActionIDs,
		InstanceState: inst.State,
		SubmittedAt:   bt.Timestamp,
	}

	if idemKey != "" {
		if err := e.results.Store(ctx, idemKey, inputHash, result, e.resultTTL); err != nil {
			e.logger.Warn("recording idempotency result failed", zap.Error(err))
		}
	}

	e.notifyNext(ctx, &ld.bp, inst)

	e.logger.Info("action rejected",
		zap.String("instance_id", instanceID),
		zap.Int("action_id", actionID),
		zap.String("tx_id", bt.TxID),
		zap.String("state", inst.State))
	return &result, nil
}

// AttachFiles anchors file attachments alongside an already submitted action
// transaction, one file transaction per non-empty attachment, each encrypted
// for every recipient wallet of the action.
func (e *Executor) AttachFiles(
	ctx context.Context,
	instanceID string,
	actionID int,
	parentTxID string,
	senderWallet string,
	files []model.FileAttachment,
) ([]string, error) {
	if instanceID == "" {
		return nil, model.NewBadRequestError("instance id is required")
	}
	if parentTxID == "" {
		return nil, model.NewBadRequestError("parent transaction id is required")
	}
	if len(files) == 0 {
		return nil, model.NewBadRequestError("at least one file is required")
	}

	ld, err := e.load(ctx, instanceID, actionID)
	if err != nil {
		return nil, err
	}

	if err := e.authorizeWallet(ctx, model.PrincipalFrom(ctx), senderWallet); err != nil {
		return nil, err
	}

	recipients := recipientWallets(ld.action, ld.instance.ParticipantWallets)
	encrypted := make([][]byte, len(files))
	for i, f := range files {
		if len(f.Content) == 0 {
			continue
		}
		ct, err := e.wallet.EncryptPayload(ctx, senderWallet, f.Content)
		if err != nil {
			return nil, err
		}
		encrypted[i] = ct
	}

	bts, err := e.builder.BuildFileTransactions(
		ld.instance.RegisterID, ld.bp.ID, instanceID, actionID, parentTxID, files, encrypted, recipients)
	if err != nil {
		return nil, err
	}

	txIDs := make([]string, 0, len(bts))
	for _, bt := range bts {
		sig, err := e.wallet.Sign(ctx, senderWallet, bt.Raw)
		if err != nil {
			return nil, err
		}
		submission, err := txbuilder.ToActionTransactionSubmission(bt, sig)
		if err != nil {
			return nil, err
		}
		if err := e.register.Submit(ctx, submission); err != nil {
			return nil, err
		}
		txIDs = append(txIDs, bt.TxID)
	}
	return txIDs, nil
}

// InstanceData returns the merged historical data of an instance that the
// given wallet can decrypt, optionally filtered to the named fields. The
// caller principal must own the wallet under the same rules as execution.
func (e *Executor) InstanceData(
	ctx context.Context,
	instanceID string,
	wallet string,
	fields []string,
) (model.Data, error) {
	if instanceID == "" {
		return nil, model.NewBadRequestError("instance id is required")
	}
	if wallet == "" {
		return nil, model.NewBadRequestError("wallet is required")
	}

	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if err := e.authorizeWallet(ctx, model.PrincipalFrom(ctx), wallet); err != nil {
		return nil, err
	}

	txs, err := e.register.GetTransactionsByInstanceID(ctx, inst.RegisterID, instanceID)
	if err != nil {
		return nil, err
	}
	txIDs := make([]string, 0, len(txs))
	for _, tx := range txs {
		txIDs = append(txIDs, tx.TxID)
	}

	return e.payloads.AggregateHistoricalData(ctx, inst.RegisterID, txIDs, wallet, fields)
}

// load fetches instance, blueprint, and action, and checks eligibility.
func (e *Executor) load(ctx context.Context, instanceID string, actionID int) (*loaded, error) {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			return nil, model.NewInvalidOperationError(fmt.Sprintf("instance %q not found", instanceID))
		}
		return nil, err
	}
	if inst.Terminal() {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("instance %q is %s", instanceID, inst.State))
	}

	bp, err := e.blueprints.GetBlueprint(ctx, inst.BlueprintID)
	if err != nil {
		if model.CodeOf(err) == model.ErrNotFound {
			return nil, model.NewInvalidOperationError(fmt.Sprintf("blueprint %q not found", inst.BlueprintID))
		}
		return nil, err
	}

	action := bp.ActionByID(actionID)
	if action == nil {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("action %d not found in blueprint %q", actionID, bp.ID))
	}

	if !inst.Eligible(actionID) && !action.IsStarting {
		return nil, model.NewInvalidOperationError(
			fmt.Sprintf("action %d is not currently executable on instance %q", actionID, instanceID))
	}

	return &loaded{instance: inst, bp: bp, action: action}, nil
}

// validate checks the submitted data. With schemas present the engine
// decides; without schemas only the required-field fallback runs, never the
// engine.
func (e *Executor) validate(ctx context.Context, action *model.Action, data model.Data) error {
	if len(action.DataSchemas) > 0 {
		res, err := e.engine.ValidateData(ctx, data, action)
		if err != nil {
			return err
		}
		if !res.Valid {
			return model.NewValidationError("submitted data failed schema validation", res.Errors)
		}
		return nil
	}

	for _, name := range action.RequiredFields {
		v, ok := data[name]
		if !ok || v.IsNull() {
			return model.NewValidationErrorMsg(fmt.Sprintf("Required field '%s' is missing", name))
		}
	}
	return nil
}

// applyRouting moves the instance's eligible set past the executed action:
// the executed id leaves the set and the routing successors join it (set
// union, so converging parallel branches collapse naturally). A conflicting
// concurrent update is retried against the fresh record; routing decisions
// come from ledger-replayed state, so re-applying the same delta is safe.
func (e *Executor) applyRouting(ctx context.Context, inst model.Instance, actionID int, routing engine.RoutingResult) (model.Instance, error) {
	const maxAttempts = 3
	for attempt := 0; ; attempt++ {
		next := make([]int, 0, len(inst.CurrentActionIDs)+len(routing.NextActionIDs))
		for _, id := range inst.CurrentActionIDs {
			if id != actionID {
				next = append(next, id)
			}
		}
		if !routing.IsComplete() {
			next = append(next, routing.NextActionIDs...)
		}
		inst.SetCurrentActions(next)
		inst.UpdatedAt = time.Now().UTC()

		err := e.instances.Update(ctx, inst)
		if err == nil {
			return inst, nil
		}
		if model.CodeOf(err) != model.ErrConflict || attempt+1 >= maxAttempts {
			return model.Instance{}, err
		}

		fresh, gerr := e.instances.Get(ctx, inst.ID)
		if gerr != nil {
			return model.Instance{}, gerr
		}
		inst = fresh
	}
}

// notifyNext dispatches fire-and-forget notifications to the sender of each
// now-eligible action. Failures are logged, never surfaced.
func (e *Executor) notifyNext(ctx context.Context, bp *model.Blueprint, inst model.Instance) {
	if e.notifier == nil || len(inst.CurrentActionIDs) == 0 {
		return
	}

	notifyCtx := context.WithoutCancel(ctx)
	for _, id := range inst.CurrentActionIDs {
		next := bp.ActionByID(id)
		if next == nil {
			continue
		}
		n := ledger.ActionNotification{
			ParticipantID: next.SenderID,
			WalletAddress: inst.ParticipantWallets[next.SenderID],
			BlueprintID:   bp.ID,
			InstanceID:    inst.ID,
			ActionID:      id,
		}
		go func() {
			if err := e.notifier.NotifyActionReady(notifyCtx, n); err != nil {
				e.logger.Warn("participant notification failed",
					zap.String("participant_id", n.ParticipantID),
					zap.Int("action_id", n.ActionID),
					zap.Error(err))
			}
		}()
	}
}

// recipientWallets maps the action's recipient participant ids (sender
// included) to wallet addresses, skipping participants without one.
func recipientWallets(action *model.Action, wallets map[string]string) []string {
	ids := action.RecipientIDsFor()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if w, ok := wallets[id]; ok && w != "" {
			out = append(out, w)
		}
	}
	return out
}

// hashExecuteInput produces a deterministic hash of an execution request for
// idempotency comparison. The action id is part of the input: the same key
// with the same data against a different action is a different request.
func hashExecuteInput(actionID int, req model.ExecuteRequest) string {
	raw, _ := json.Marshal(struct {
		ActionID     int        `json:"action_id"`
		SenderWallet string     `json:"sender_wallet"`
		Data         model.Data `json:"data"`
	}{actionID, req.SenderWallet, req.Data})
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

func hashRejectInput(actionID int, req model.RejectRequest) string {
	raw, _ := json.Marshal(struct {
		ActionID     int    `json:"action_id"`
		SenderWallet string `json:"sender_wallet"`
		Reason       string `json:"reason"`
	}{actionID, req.SenderWallet, req.Reason})
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}
