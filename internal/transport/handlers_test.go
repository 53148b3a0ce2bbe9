package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registerlabs/ledgerflow/internal/action"
	"github.com/registerlabs/ledgerflow/internal/blueprint"
	"github.com/registerlabs/ledgerflow/internal/config"
	"github.com/registerlabs/ledgerflow/internal/engine"
	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/internal/payload"
	"github.com/registerlabs/ledgerflow/internal/resolver"
	"github.com/registerlabs/ledgerflow/internal/state"
	"github.com/registerlabs/ledgerflow/internal/store"
	"github.com/registerlabs/ledgerflow/internal/txbuilder"
	"github.com/registerlabs/ledgerflow/model"
)

// --- backend stubs ---

type stubRegister struct{}

func (stubRegister) GetTransactionsByInstanceID(context.Context, string, string) ([]ledger.Transaction, error) {
	return nil, nil
}

func (stubRegister) GetTransaction(context.Context, string, string) (ledger.Transaction, error) {
	return ledger.Transaction{}, model.NewNotFoundError("transaction not found")
}

func (stubRegister) Submit(context.Context, ledger.NetworkSubmission) error { return nil }

func (stubRegister) PublishBlueprint(context.Context, string, string, []byte, string) error {
	return nil
}

type stubWallet struct{}

func (stubWallet) EncryptPayload(_ context.Context, wallet string, plaintext []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("enc:%s:%s", wallet, plaintext)), nil
}

func (stubWallet) DecryptPayload(_ context.Context, _ string, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}

func (stubWallet) DecryptWithDelegation(_ context.Context, _ string, ciphertext []byte, _ string) ([]byte, error) {
	return ciphertext, nil
}

func (stubWallet) Sign(context.Context, string, []byte) (ledger.SignResult, error) {
	return ledger.SignResult{PublicKey: []byte("pk"), Signature: []byte("sig"), Algorithm: "Ed25519"}, nil
}

type stubDirectory struct{}

func (stubDirectory) GetByUserAndOrg(context.Context, string, string) (*ledger.ParticipantInfo, error) {
	return &ledger.ParticipantInfo{ID: "part-1", Status: ledger.ParticipantStatusActive}, nil
}

func (stubDirectory) GetLinkedWallets(context.Context, string, bool) ([]ledger.LinkedWalletInfo, error) {
	return []ledger.LinkedWalletInfo{{Address: "wallet-buyer", Active: true}}, nil
}

// --- fixture ---

func apiBlueprint() model.Blueprint {
	return model.Blueprint{
		ID:    "bp-1",
		Title: "Purchase Order",
		Participants: []model.Participant{
			{ID: "buyer", Name: "Buyer", WalletAddress: "wallet-buyer"},
			{ID: "seller", Name: "Seller", WalletAddress: "wallet-seller"},
		},
		Actions: []model.Action{
			{
				ID: 1, Title: "Submit Order", SenderID: "buyer", IsStarting: true,
				RequiredFields: []string{"amount"},
				Routes:         []model.Route{{NextActionIDs: []int{2}, Default: true}},
			},
			{ID: 2, Title: "Confirm Order", SenderID: "seller"},
		},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()

	blueprints := store.NewMemoryBlueprintStore()
	require.NoError(t, blueprints.Save(ctx, apiBlueprint()))
	instances := store.NewMemoryInstanceStore()

	reg := stubRegister{}
	wallet := stubWallet{}
	res := resolver.New(blueprints, nil, nil)

	exec := action.NewExecutor(
		instances,
		res,
		store.NewMemoryResultStore(),
		state.NewReconstructor(reg, wallet, nil),
		engine.NewJSONLogicEngine(),
		payload.NewResolver(reg, wallet, nil),
		txbuilder.NewBuilder(),
		reg,
		wallet,
		stubDirectory{},
		nil,
	)

	h := NewHandlers(exec, blueprint.NewPublisher(blueprints, reg, nil, nil), res, instances, nil)
	return NewRouter(Dependencies{
		Config:   config.Defaults(),
		Handlers: h,
	})
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createInstance(t *testing.T, router http.Handler) model.Instance {
	t.Helper()
	w := doJSON(t, router, "POST", "/v1/instances", map[string]any{
		"id":           "inst-1",
		"blueprint_id": "bp-1",
		"register_id":  "reg-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var inst model.Instance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inst))
	return inst
}

// --- tests ---

func TestCreateInstance_DefaultsFromBlueprint(t *testing.T) {
	router := newTestRouter(t)

	inst := createInstance(t, router)
	assert.Equal(t, model.InstanceStateActive, inst.State)
	assert.Equal(t, []int{1}, inst.CurrentActionIDs, "starting action becomes eligible")
	assert.Equal(t, "wallet-buyer", inst.ParticipantWallets["buyer"])
}

func TestCreateInstance_UnknownBlueprint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/instances", map[string]any{
		"id": "inst-x", "blueprint_id": "ghost", "register_id": "reg-1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetInstance(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	w := doJSON(t, router, "GET", "/v1/instances/inst-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/v1/instances/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetInstanceDataEndpoint(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	// No ledger history yet: the merged view is an empty object, not an error.
	w := doJSON(t, router, "GET", "/v1/instances/inst-1/data?wallet=wallet-buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{}`, w.Body.String())

	w = doJSON(t, router, "GET", "/v1/instances/inst-1/data", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "wallet parameter is required")
}

func TestGetActionEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "GET", "/v1/blueprints/bp-1/actions/2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var act model.Action
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &act))
	assert.Equal(t, "Confirm Order", act.Title)
	assert.Equal(t, "seller", act.SenderID)

	w = doJSON(t, router, "GET", "/v1/blueprints/bp-1/actions/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, "GET", "/v1/blueprints/bp-1/actions/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "non-numeric ids are unknown, not malformed")

	w = doJSON(t, router, "GET", "/v1/blueprints/ghost/actions/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteEndpoint(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	w := doJSON(t, router, "POST", "/v1/instances/inst-1/actions/1/execute", model.ExecuteRequest{
		SenderWallet: "wallet-buyer",
		Data:         model.Data{"amount": model.Number(42)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res model.ExecutionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, []int{2}, res.NextActionIDs)
}

func TestExecuteEndpoint_ValidationFailure(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	w := doJSON(t, router, "POST", "/v1/instances/inst-1/actions/1/execute", model.ExecuteRequest{
		SenderWallet: "wallet-buyer",
		Data:         model.Data{"other": model.Number(1)},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.ErrValidationError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "Required field 'amount' is missing")
}

func TestExecuteEndpoint_IneligibleAction(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	w := doJSON(t, router, "POST", "/v1/instances/inst-1/actions/2/execute", model.ExecuteRequest{
		SenderWallet: "wallet-seller",
		Data:         model.Data{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExecuteEndpoint_BadActionID(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/instances/inst-1/actions/abc/execute", model.ExecuteRequest{
		SenderWallet: "wallet-buyer",
		Data:         model.Data{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteEndpoint_EmptyBody(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "POST", "/v1/instances/inst-1/actions/1/execute", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteEndpoint_IdempotencyHeader(t *testing.T) {
	router := newTestRouter(t)
	createInstance(t, router)

	body, err := json.Marshal(model.ExecuteRequest{
		SenderWallet: "wallet-buyer",
		Data:         model.Data{"amount": model.Number(42)},
	})
	require.NoError(t, err)

	var results [2]model.ExecutionResult
	for i := range results {
		req := httptest.NewRequest("POST", "/v1/instances/inst-1/actions/1/execute", bytes.NewReader(body))
		req.Header.Set("X-Idempotency-Key", "key-a")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results[i]))
	}
	assert.Equal(t, results[0].TransactionID, results[1].TransactionID)
}

func TestPublishBlueprintEndpoint(t *testing.T) {
	router := newTestRouter(t)

	bp := apiBlueprint()
	bp.ID = "bp-2"
	w := doJSON(t, router, "POST", "/v1/registers/reg-1/blueprints", bp)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bp-2", resp["blueprint_id"])
	assert.Equal(t, blueprint.PublishTxID("reg-1", "bp-2"), resp["publish_tx_id"])

	got := doJSON(t, router, "GET", "/v1/blueprints/bp-2", nil)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestPublishBlueprintEndpoint_ValidationFailure(t *testing.T) {
	router := newTestRouter(t)

	bp := apiBlueprint()
	bp.ID = "bp-bad"
	bp.Actions[0].Routes = []model.Route{{NextActionIDs: []int{1}, Default: true}}

	w := doJSON(t, router, "POST", "/v1/registers/reg-1/blueprints", bp)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
