package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Kind enumerates the closed set of runtime value shapes a property can take.
// The set is deliberately small so that switches over it are exhaustive.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindObject
	KindArray
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// FieldValue is a tagged union over the JSON-compatible values a record
// property can hold. Numbers are carried as decimals so that integer versus
// fractional classification and value equality stay exact across JSON
// round-trips.
type FieldValue struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	obj  map[string]FieldValue
	arr  []FieldValue
}

// Null returns the null value.
func Null() FieldValue { return FieldValue{kind: KindNull} }

// String returns a string value.
func String(s string) FieldValue { return FieldValue{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(d decimal.Decimal) FieldValue { return FieldValue{kind: KindNumber, num: d} }

// Int returns a numeric value from an int64.
func Int(n int64) FieldValue { return Number(decimal.NewFromInt(n)) }

// Float returns a numeric value from a float64.
func Float(f float64) FieldValue { return Number(decimal.NewFromFloat(f)) }

// Bool returns a boolean value.
func Bool(v bool) FieldValue { return FieldValue{kind: KindBoolean, b: v} }

// Object returns an object value wrapping m. The map is not copied.
func Object(m map[string]FieldValue) FieldValue { return FieldValue{kind: KindObject, obj: m} }

// Array returns an array value wrapping vs. The slice is not copied.
func Array(vs []FieldValue) FieldValue { return FieldValue{kind: KindArray, arr: vs} }

// Kind reports the shape of the value.
func (v FieldValue) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v FieldValue) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether the value is a string, number, or boolean.
func (v FieldValue) IsScalar() bool {
	switch v.kind {
	case KindString, KindNumber, KindBoolean:
		return true
	default:
		return false
	}
}

// IsEmpty reports whether the value is null or an empty string. Required-field
// validation treats both as absent.
func (v FieldValue) IsEmpty() bool {
	return v.kind == KindNull || (v.kind == KindString && v.str == "")
}

// Str returns the string payload. Zero for non-string kinds.
func (v FieldValue) Str() string { return v.str }

// Num returns the numeric payload. Zero for non-number kinds.
func (v FieldValue) Num() decimal.Decimal { return v.num }

// BoolVal returns the boolean payload. False for non-boolean kinds.
func (v FieldValue) BoolVal() bool { return v.b }

// Obj returns the object payload. Nil for non-object kinds.
func (v FieldValue) Obj() map[string]FieldValue { return v.obj }

// Arr returns the array payload. Nil for non-array kinds.
func (v FieldValue) Arr() []FieldValue { return v.arr }

// Infer classifies an arbitrary decoded JSON value into the union. Unknown Go
// types fall back to their string rendering, matching the inference rule used
// for fields absent from a schema.
func Infer(raw any) FieldValue {
	switch x := raw.(type) {
	case nil:
		return Null()
	case FieldValue:
		return x
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case json.Number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return Number(d)
		}
		return String(x.String())
	case float64:
		return Number(decimal.NewFromFloat(x))
	case float32:
		return Number(decimal.NewFromFloat32(x))
	case int:
		return Int(int64(x))
	case int64:
		return Int(x)
	case decimal.Decimal:
		return Number(x)
	case []any:
		vs := make([]FieldValue, len(x))
		for i, e := range x {
			vs[i] = Infer(e)
		}
		return Array(vs)
	case map[string]any:
		m := make(map[string]FieldValue, len(x))
		for k, e := range x {
			m[k] = Infer(e)
		}
		return Object(m)
	default:
		return String(fmt.Sprint(x))
	}
}

// InferredType maps the runtime shape to a schema field type: booleans to
// boolean, integral numbers to integer, fractional numbers to number, arrays
// to array, non-null objects to object, everything else to string.
func (v FieldValue) InferredType() FieldType {
	switch v.kind {
	case KindBoolean:
		return TypeBoolean
	case KindNumber:
		if v.num.IsInteger() {
			return TypeInteger
		}
		return TypeNumber
	case KindArray:
		return TypeArray
	case KindObject:
		return TypeObject
	default:
		return TypeString
	}
}

// Equal reports deep structural equality. Object comparison is key-order
// insensitive; numeric comparison is by decimal value, so 10 and 10.0 are
// equal.
func (v FieldValue) Equal(o FieldValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num.Equal(o.num)
	case KindBoolean:
		return v.b == o.b
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
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
	default:
		return false
	}
}

// Interface converts the value back to plain decoded-JSON shapes
// (nil, string, decimal.Decimal, bool, []any, map[string]any).
func (v FieldValue) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON renders the value as plain JSON.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		// Marshal the decimal's exact representation as a bare number.
		return []byte(v.num.String()), nil
	case KindBoolean:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("cannot marshal field value of kind %d", v.kind)
	}
}

// UnmarshalJSON decodes plain JSON into the union, using json.Number so that
// numeric precision survives.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = Infer(raw)
	return nil
}

// PropertyMap is the free-form property bag on a record.
type PropertyMap map[string]FieldValue

// Keys returns the map's keys in sorted order for deterministic iteration.
func (m PropertyMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map. Values are immutable in practice
// (the engine never mutates nested payloads in place), so a shallow copy
// suffices for snapshotting.
func (m PropertyMap) Clone() PropertyMap {
	if m == nil {
		return nil
	}
	out := make(PropertyMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports key-order-insensitive deep equality between property maps.
func (m PropertyMap) Equal(o PropertyMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// ParsePropertyMap decodes a property map from either a structured value or a
// serialized JSON string. Producers are allowed to hand properties over in
// both shapes, so consumers accept both transparently.
func ParsePropertyMap(raw any) (PropertyMap, error) {
	switch x := raw.(type) {
	case nil:
		return PropertyMap{}, nil
	case PropertyMap:
		return x, nil
	case map[string]FieldValue:
		return PropertyMap(x), nil
	case map[string]any:
		m := make(PropertyMap, len(x))
		for k, e := range x {
			m[k] = Infer(e)
		}
		return m, nil
	case string:
		return parsePropertyJSON([]byte(x))
	case []byte:
		return parsePropertyJSON(x)
	case json.RawMessage:
		return parsePropertyJSON(x)
	default:
		return nil, fmt.Errorf("unsupported property map shape %T", raw)
	}
}

func parsePropertyJSON(data []byte) (PropertyMap, error) {
	if len(data) == 0 {
		return PropertyMap{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse property map: %w", err)
	}
	m := make(PropertyMap, len(raw))
	for k, e := range raw {
		m[k] = Infer(e)
	}
	return m, nil
}
