package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registerlabs/ledgerflow/model"
)

func mustData(t *testing.T, raw string) model.Data {
	t.Helper()
	d, err := model.DataFromJSON([]byte(raw))
	require.NoError(t, err)
	return d
}

func TestValidateData_SchemaPass(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		DataSchemas: []json.RawMessage{
			json.RawMessage(`{
				"type": "object",
				"required": ["amount", "currency"],
				"properties": {
					"amount": {"type": "number", "minimum": 0},
					"currency": {"type": "string", "minLength": 3}
				}
			}`),
		},
	}

	res, err := e.ValidateData(context.Background(), mustData(t, `{"amount": 120.5, "currency": "EUR"}`), action)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateData_SchemaViolations(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		DataSchemas: []json.RawMessage{
			json.RawMessage(`{
				"type": "object",
				"required": ["amount"],
				"properties": {
					"amount": {"type": "number", "minimum": 0}
				}
			}`),
		},
	}

	res, err := e.ValidateData(context.Background(), mustData(t, `{"note": "missing amount"}`), action)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "REQUIRED", res.Errors[0].Code)
}

func TestValidateData_NegativeAmount(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		DataSchemas: []json.RawMessage{
			json.RawMessage(`{
				"type": "object",
				"properties": {"amount": {"type": "number", "minimum": 0}}
			}`),
		},
	}

	res, err := e.ValidateData(context.Background(), mustData(t, `{"amount": -5}`), action)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "/amount", res.Errors[0].Field)
}

func TestValidateData_NoSchemasIsValid(t *testing.T) {
	e := NewJSONLogicEngine()

	res, err := e.ValidateData(context.Background(), mustData(t, `{"anything": true}`), &model.Action{ID: 1})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestApplyCalculations(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Calculations: map[string]json.RawMessage{
			"total": json.RawMessage(`{"*": [{"var": "quantity"}, {"var": "unitPrice"}]}`),
		},
	}

	out, err := e.ApplyCalculations(context.Background(), mustData(t, `{"quantity": 4, "unitPrice": 2.5}`), action)
	require.NoError(t, err)

	total, ok := out["total"].AsNumber()
	require.True(t, ok, "total should be numeric, got %v", out["total"])
	assert.Equal(t, 10.0, total)

	// Inputs are untouched.
	qty, _ := out["quantity"].AsNumber()
	assert.Equal(t, 4.0, qty)
}

func TestApplyCalculations_OverwritesSubmittedField(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Calculations: map[string]json.RawMessage{
			"total": json.RawMessage(`{"+": [{"var": "a"}, {"var": "b"}]}`),
		},
	}

	// A client-supplied "total" must never survive the calculation.
	out, err := e.ApplyCalculations(context.Background(), mustData(t, `{"a": 1, "b": 2, "total": 999}`), action)
	require.NoError(t, err)

	total, _ := out["total"].AsNumber()
	assert.Equal(t, 3.0, total)
}

func TestApplyCalculations_NoneIsPassthrough(t *testing.T) {
	e := NewJSONLogicEngine()
	data := mustData(t, `{"a": 1}`)

	out, err := e.ApplyCalculations(context.Background(), data, &model.Action{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDetermineRouting_FirstMatchWins(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Routes: []model.Route{
			{NextActionIDs: []int{2}, Condition: json.RawMessage(`{">": [{"var": "amount"}, 1000]}`)},
			{NextActionIDs: []int{3}, Condition: json.RawMessage(`{">": [{"var": "amount"}, 100]}`)},
			{NextActionIDs: []int{4}, Default: true},
		},
	}
	bp := &model.Blueprint{ID: "bp-1", Actions: []model.Action{*action}}

	res, err := e.DetermineRouting(context.Background(), bp, action, mustData(t, `{"amount": 5000}`))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, res.NextActionIDs)

	res, err = e.DetermineRouting(context.Background(), bp, action, mustData(t, `{"amount": 500}`))
	require.NoError(t, err)
	assert.Equal(t, []int{3}, res.NextActionIDs)
}

func TestDetermineRouting_DefaultWhenNoConditionMatches(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Routes: []model.Route{
			{NextActionIDs: []int{2}, Condition: json.RawMessage(`{">": [{"var": "amount"}, 1000]}`)},
			{NextActionIDs: []int{9}, Default: true},
		},
	}

	res, err := e.DetermineRouting(context.Background(), nil, action, mustData(t, `{"amount": 10}`))
	require.NoError(t, err)
	assert.Equal(t, []int{9}, res.NextActionIDs)
}

func TestDetermineRouting_NoMatchNoDefaultIsComplete(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Routes: []model.Route{
			{NextActionIDs: []int{2}, Condition: json.RawMessage(`{">": [{"var": "amount"}, 1000]}`)},
		},
	}

	res, err := e.DetermineRouting(context.Background(), nil, action, mustData(t, `{"amount": 10}`))
	require.NoError(t, err)
	assert.True(t, res.IsComplete())
}

func TestDetermineRouting_NoRoutesIsComplete(t *testing.T) {
	e := NewJSONLogicEngine()

	res, err := e.DetermineRouting(context.Background(), nil, &model.Action{ID: 1}, mustData(t, `{}`))
	require.NoError(t, err)
	assert.True(t, res.IsComplete())
}

func TestDetermineRouting_ParallelFanout(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Routes: []model.Route{
			{NextActionIDs: []int{2, 3}, Default: true},
		},
	}

	res, err := e.DetermineRouting(context.Background(), nil, action, mustData(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, res.NextActionIDs)
	assert.True(t, res.Parallel)
}

func TestApplyDisclosures_NoneMeansFullToAllRecipients(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID:           1,
		SenderID:     "buyer",
		RecipientIDs: []string{"seller"},
	}
	data := mustData(t, `{"amount": 100, "note": "hello"}`)

	results, err := e.ApplyDisclosures(data, action)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Wildcard)
		assert.Equal(t, data, r.Data)
	}
	assert.Equal(t, "buyer", results[0].ParticipantID)
	assert.Equal(t, "seller", results[1].ParticipantID)
}

func TestApplyDisclosures_FieldFiltering(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Disclosures: []model.Disclosure{
			{ParticipantID: "buyer", Fields: []string{"*"}},
			{ParticipantID: "auditor", Fields: []string{"amount"}},
		},
	}
	data := mustData(t, `{"amount": 100, "secretMargin": 0.3}`)

	results, err := e.ApplyDisclosures(data, action)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Wildcard)
	assert.Len(t, results[0].Data, 2)

	assert.False(t, results[1].Wildcard)
	assert.Len(t, results[1].Data, 1)
	_, hasSecret := results[1].Data["secretMargin"]
	assert.False(t, hasSecret)
}

func TestApplyDisclosures_ConditionGatesGrant(t *testing.T) {
	e := NewJSONLogicEngine()
	action := &model.Action{
		ID: 1,
		Disclosures: []model.Disclosure{
			{
				ParticipantID: "auditor",
				Fields:        []string{"amount"},
				Condition:     json.RawMessage(`{">": [{"var": "amount"}, 10000]}`),
			},
		},
	}

	results, err := e.ApplyDisclosures(mustData(t, `{"amount": 500}`), action)
	require.NoError(t, err)
	assert.Empty(t, results, "below-threshold amounts are not disclosed to the auditor")

	results, err = e.ApplyDisclosures(mustData(t, `{"amount": 50000}`), action)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "auditor", results[0].ParticipantID)
}
