package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/diegoholiveira/jsonlogic/v3"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/registerlabs/ledgerflow/model"
)

// JSONLogicEngine implements Engine with JSON-Schema payload validation and
// JSON-Logic calculations, route conditions, and disclosure conditions.
type JSONLogicEngine struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewJSONLogicEngine creates a JSONLogicEngine with an empty schema cache.
func NewJSONLogicEngine() *JSONLogicEngine {
	return &JSONLogicEngine{schemas: make(map[string]*jsonschema.Schema)}
}

// ValidateData implements Engine. Every schema of the action is applied; all
// violations are collected rather than stopping at the first.
func (e *JSONLogicEngine) ValidateData(_ context.Context, data model.Data, action *model.Action) (ValidationResult, error) {
	if action == nil {
		return ValidationResult{}, model.NewBadRequestError("action is required")
	}

	doc, err := toJSONValue(data.Interface())
	if err != nil {
		return ValidationResult{}, fmt.Errorf("serialize payload: %w", err)
	}

	var errs []model.FieldError
	for i, raw := range action.DataSchemas {
		compiled, err := e.getOrCompile(raw)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("action %d schema %d: %w", action.ID, i, err)
		}
		if verr := compiled.Validate(doc); verr != nil {
			errs = append(errs, flattenSchemaError(verr)...)
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}, nil
}

// ApplyCalculations implements Engine. Each named calculation is a JSON-Logic
// expression evaluated against the data; its result lands under the
// calculation's name, overwriting any submitted field of the same name.
func (e *JSONLogicEngine) ApplyCalculations(_ context.Context, data model.Data, action *model.Action) (model.Data, error) {
	if action == nil {
		return nil, model.NewBadRequestError("action is required")
	}
	if len(action.Calculations) == 0 {
		return data, nil
	}

	input, err := data.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}

	out := data.Clone()
	for name, rule := range action.Calculations {
		result, err := jsonlogic.ApplyRaw(json.RawMessage(rule), input)
		if err != nil {
			return nil, model.NewValidationErrorMsg(
				fmt.Sprintf("calculation %q failed: %v", name, err),
			)
		}
		var v model.Value
		if err := json.Unmarshal(result, &v); err != nil {
			return nil, fmt.Errorf("calculation %q result: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// DetermineRouting implements Engine. Routes are evaluated in declaration
// order; a route without a condition matches only via its default flag, and
// the first conditional match wins over any default.
func (e *JSONLogicEngine) DetermineRouting(_ context.Context, bp *model.Blueprint, action *model.Action, data model.Data) (RoutingResult, error) {
	if action == nil {
		return RoutingResult{}, model.NewBadRequestError("action is required")
	}
	if len(action.Routes) == 0 {
		return Complete(), nil
	}

	input, err := data.ToJSON()
	if err != nil {
		return RoutingResult{}, fmt.Errorf("serialize payload: %w", err)
	}

	var defaultRoute *model.Route
	for i := range action.Routes {
		route := &action.Routes[i]
		if len(route.Condition) == 0 {
			if route.Default && defaultRoute == nil {
				defaultRoute = route
			}
			continue
		}
		matched, err := evaluateCondition(route.Condition, input)
		if err != nil {
			return RoutingResult{}, model.NewValidationErrorMsg(
				fmt.Sprintf("route condition on action %d failed: %v", action.ID, err),
			)
		}
		if matched {
			return routeResult(route), nil
		}
		if route.Default && defaultRoute == nil {
			defaultRoute = route
		}
	}

	if defaultRoute != nil {
		return routeResult(defaultRoute), nil
	}
	return Complete(), nil
}

func routeResult(route *model.Route) RoutingResult {
	next := append([]int(nil), route.NextActionIDs...)
	return RoutingResult{NextActionIDs: next, Parallel: len(next) > 1}
}

// ApplyDisclosures implements Engine. Without explicit disclosures every
// recipient of the action sees the full payload; with them, each grant is
// filtered to its field list (or wildcard) after its optional condition.
func (e *JSONLogicEngine) ApplyDisclosures(data model.Data, action *model.Action) ([]DisclosureResult, error) {
	if action == nil {
		return nil, model.NewBadRequestError("action is required")
	}

	if len(action.Disclosures) == 0 {
		recipients := action.RecipientIDsFor()
		results := make([]DisclosureResult, 0, len(recipients))
		for _, id := range recipients {
			results = append(results, DisclosureResult{
				ParticipantID: id,
				Wildcard:      true,
				Data:          data.Clone(),
			})
		}
		return results, nil
	}

	var input []byte
	results := make([]DisclosureResult, 0, len(action.Disclosures))
	for _, d := range action.Disclosures {
		if len(d.Condition) > 0 {
			if input == nil {
				var err error
				input, err = data.ToJSON()
				if err != nil {
					return nil, fmt.Errorf("serialize payload: %w", err)
				}
			}
			matched, err := evaluateCondition(d.Condition, input)
			if err != nil {
				return nil, model.NewValidationErrorMsg(
					fmt.Sprintf("disclosure condition for %q failed: %v", d.ParticipantID, err),
				)
			}
			if !matched {
				continue
			}
		}

		if d.Wildcard() {
			results = append(results, DisclosureResult{
				ParticipantID: d.ParticipantID,
				Wildcard:      true,
				Data:          data.Clone(),
			})
			continue
		}
		results = append(results, DisclosureResult{
			ParticipantID: d.ParticipantID,
			Fields:        append([]string(nil), d.Fields...),
			Data:          data.Pick(d.Fields),
		})
	}
	return results, nil
}

// evaluateCondition applies a JSON-Logic rule and interprets the result as a
// truthy value (JSON-Logic truthiness: false, 0, "", null, [] are falsy).
func evaluateCondition(rule json.RawMessage, input []byte) (bool, error) {
	result, err := jsonlogic.ApplyRaw(rule, input)
	if err != nil {
		return false, err
	}
	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return false, err
	}
	switch t := decoded.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		return t != "", nil
	case []any:
		return len(t) > 0, nil
	default:
		return true, nil
	}
}

// getOrCompile returns a cached compiled schema or compiles and caches a new
// one, keyed by the schema bytes.
func (e *JSONLogicEngine) getOrCompile(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)

	e.mu.RLock()
	if cached, ok := e.schemas[key]; ok {
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.schemas[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets a unique URL to avoid compiler resource collisions.
	url := fmt.Sprintf("ledgerflow://data-schema/%d", len(e.schemas))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	e.schemas[key] = compiled
	return compiled, nil
}

// flattenSchemaError walks a ValidationError tree and collects leaf messages
// with JSON-pointer locations.
func flattenSchemaError(err error) []model.FieldError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []model.FieldError{{Code: "INVALID_VALUE", Message: err.Error()}}
	}

	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		code := "INVALID_VALUE"
		if _, required := verr.ErrorKind.(*kind.Required); required {
			code = "REQUIRED"
		}
		return []model.FieldError{{Field: loc, Code: code, Message: verr.Error()}}
	}

	var out []model.FieldError
	for _, cause := range verr.Causes {
		out = append(out, flattenSchemaError(cause)...)
	}
	return out
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
