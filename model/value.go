package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the JSON type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// Value is a tagged union over the JSON value space. Action payload data is
// arbitrary JSON shaped by per-blueprint schemas; Value keeps the engine
// boundary typed without committing to a concrete payload shape.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  map[string]Value
	arr  []Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Object returns an object Value wrapping the given fields.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Array returns an array Value wrapping the given elements.
func Array(elems []Value) Value { return Value{kind: KindArray, arr: elems} }

// Kind returns the JSON type of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string content and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric content and whether the value is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsBool returns the boolean content and whether the value is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsObject returns the object fields and whether the value is an object.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// AsArray returns the elements and whether the value is an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// FromAny converts a decoded JSON value (the encoding/json any mapping) into
// a Value. Unsupported Go types are stringified.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case bool:
		return Bool(t)
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, v := range t {
			obj[k] = FromAny(v)
		}
		return Object(obj)
	case []any:
		arr := make([]Value, 0, len(t))
		for _, v := range t {
			arr = append(arr, FromAny(v))
		}
		return Array(arr)
	default:
		return String(fmt.Sprint(t))
	}
}

// Interface converts the value back into the encoding/json any mapping.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	case KindArray:
		out := make([]any, 0, len(v.arr))
		for _, e := range v.arr {
			out = append(out, e.Interface())
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i, e := range v.arr {
			if !e.Equal(o.arr[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Data is a top-level action payload: named fields of dynamic values.
type Data map[string]Value

// DataFromJSON decodes a JSON object into Data. Non-object documents are
// rejected.
func DataFromJSON(raw []byte) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	d := make(Data, len(obj))
	for k, v := range obj {
		d[k] = FromAny(v)
	}
	return d, nil
}

// ToJSON encodes the data as a compact JSON object with deterministic key
// order (encoding/json sorts map keys).
func (d Data) ToJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(d))
}

// Interface converts the data into a plain map for external evaluators.
func (d Data) Interface() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v.Interface()
	}
	return out
}

// Clone returns a shallow-copied Data. Values are immutable once built, so a
// field-level copy is sufficient.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new Data containing d overlaid with other; fields in other
// win on collision.
func (d Data) Merge(other Data) Data {
	out := d.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Pick returns a new Data restricted to the given field names. Missing names
// are skipped.
func (d Data) Pick(fields []string) Data {
	out := make(Data, len(fields))
	for _, f := range fields {
		if v, ok := d[f]; ok {
			out[f] = v
		}
	}
	return out
}

// FieldNames returns the sorted field names of the data.
func (d Data) FieldNames() []string {
	names := make([]string, 0, len(d))
	for k := range d {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
