package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/registerlabs/ledgerflow/internal/action"
	"github.com/registerlabs/ledgerflow/internal/blueprint"
	"github.com/registerlabs/ledgerflow/internal/resolver"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/model"
)

// Request headers consumed by the handlers.
const (
	idempotencyHeader = "X-Idempotency-Key"
	delegationHeader  = "X-Delegation-Token"
)

const maxBodyBytes = 4 << 20

// Handlers bundles the orchestrator and stores behind the HTTP surface.
type Handlers struct {
	executor   *action.Executor
	publisher  *blueprint.Publisher
	blueprints *resolver.Resolver
	instances  store.InstanceStore
	logger     *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(
	executor *action.Executor,
	publisher *blueprint.Publisher,
	blueprints *resolver.Resolver,
	instances store.InstanceStore,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		executor:   executor,
		publisher:  publisher,
		blueprints: blueprints,
		instances:  instances,
		logger:     logger,
	}
}

// HandleExecute handles POST /v1/instances/{instanceId}/actions/{actionId}/execute.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	actionID, err := strconv.Atoi(chi.URLParam(r, "actionId"))
	if err != nil {
		WriteError(w, model.NewBadRequestError("action id must be an integer"))
		return
	}

	var req model.ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	result, err := h.executor.Execute(r.Context(), instanceID, actionID, req, r.Header.Get(delegationHeader))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// HandleReject handles POST /v1/instances/{instanceId}/actions/{actionId}/reject.
func (h *Handlers) HandleReject(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	actionID, err := strconv.Atoi(chi.URLParam(r, "actionId"))
	if err != nil {
		WriteError(w, model.NewBadRequestError("action id must be an integer"))
		return
	}

	var req model.RejectRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(idempotencyHeader)
	}

	result, err := h.executor.Reject(r.Context(), instanceID, actionID, req, r.Header.Get(delegationHeader))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// HandleAttachFiles handles POST /v1/instances/{instanceId}/actions/{actionId}/files.
func (h *Handlers) HandleAttachFiles(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	actionID, err := strconv.Atoi(chi.URLParam(r, "actionId"))
	if err != nil {
		WriteError(w, model.NewBadRequestError("action id must be an integer"))
		return
	}

	var req struct {
		ParentTransactionID string                 `json:"parent_transaction_id"`
		SenderWallet        string                 `json:"sender_wallet"`
		Files               []model.FileAttachment `json:"files"`
	}
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	txIDs, err := h.executor.AttachFiles(r.Context(), instanceID, actionID,
		req.ParentTransactionID, req.SenderWallet, req.Files)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"transaction_ids": txIDs})
}

// HandleGetInstanceData handles GET /v1/instances/{instanceId}/data. It
// returns the merged historical fields the caller's wallet can decrypt,
// optionally filtered by a comma-separated fields parameter.
func (h *Handlers) HandleGetInstanceData(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	var fields []string
	if f := r.URL.Query().Get("fields"); f != "" {
		fields = strings.Split(f, ",")
	}

	data, err := h.executor.InstanceData(r.Context(), chi.URLParam(r, "instanceId"), wallet, fields)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, data)
}

// HandleGetInstance handles GET /v1/instances/{instanceId}.
func (h *Handlers) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.instances.Get(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

// HandleCreateInstance handles POST /v1/instances.
func (h *Handlers) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var inst model.Instance
	if err := decodeBody(r, &inst); err != nil {
		WriteError(w, err)
		return
	}

	bp, err := h.blueprints.GetBlueprint(r.Context(), inst.BlueprintID)
	if err != nil {
		WriteError(w, err)
		return
	}

	if inst.State == "" {
		inst.State = model.InstanceStateActive
	}
	if len(inst.CurrentActionIDs) == 0 {
		if start := bp.StartingAction(); start != nil {
			inst.CurrentActionIDs = []int{start.ID}
		}
	}
	if len(inst.ParticipantWallets) == 0 {
		inst.ParticipantWallets = bp.ParticipantWallets()
	}

	if err := h.instances.Create(r.Context(), inst); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, inst)
}

// HandlePublishBlueprint handles POST /v1/registers/{registerId}/blueprints.
func (h *Handlers) HandlePublishBlueprint(w http.ResponseWriter, r *http.Request) {
	var bp model.Blueprint
	if err := decodeBody(r, &bp); err != nil {
		WriteError(w, err)
		return
	}

	actor := ""
	if p := model.PrincipalFrom(r.Context()); p != nil && !p.IsService() {
		actor = p.UserID
	}

	txID, err := h.publisher.Publish(r.Context(), chi.URLParam(r, "registerId"), &bp, actor)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{
		"blueprint_id":  bp.ID,
		"publish_tx_id": txID,
	})
}

// HandleGetBlueprint handles GET /v1/blueprints/{blueprintId}.
func (h *Handlers) HandleGetBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := h.blueprints.GetBlueprint(r.Context(), chi.URLParam(r, "blueprintId"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, bp)
}

// HandleGetAction handles GET /v1/blueprints/{blueprintId}/actions/{actionId}.
// An unparsable or unknown action id is a plain 404, not a 400.
func (h *Handlers) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	bp, err := h.blueprints.GetBlueprint(r.Context(), chi.URLParam(r, "blueprintId"))
	if err != nil {
		WriteError(w, err)
		return
	}

	actionIDText := chi.URLParam(r, "actionId")
	act, err := h.blueprints.ActionDefinition(&bp, actionIDText)
	if err != nil {
		WriteError(w, err)
		return
	}
	if act == nil {
		WriteError(w, model.NewNotFoundError(
			fmt.Sprintf("action %q not found in blueprint %q", actionIDText, bp.ID)))
		return
	}
	WriteJSON(w, http.StatusOK, act)
}

// decodeBody reads a bounded JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return model.NewBadRequestError("reading request body: " + err.Error())
	}
	if len(body) == 0 {
		return model.NewBadRequestError("request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return model.NewBadRequestError("malformed JSON body: " + err.Error())
	}
	return nil
}
