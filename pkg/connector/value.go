package connector

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Record is a keyed record carried inside list and map values.
type Record = map[string]any

// ValueKind tags the shape held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindMap
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the payload threaded through pipeline steps. It is a closed union of
// null, scalar, keyed map and list. The zero Value is null.
type Value struct {
	kind   ValueKind
	scalar any
	m      map[string]any
	list   []any
}

// Null returns the null value.
func Null() Value { return Value{} }

// Scalar wraps a non-collection value. A nil argument yields null.
func Scalar(v any) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: KindScalar, scalar: v}
}

// Map wraps a keyed record.
func Map(m map[string]any) Value {
	if m == nil {
		m = map[string]any{}
	}
	return Value{kind: KindMap, m: m}
}

// List wraps a sequence.
func List(items []any) Value {
	if items == nil {
		items = []any{}
	}
	return Value{kind: KindList, list: items}
}

// Records wraps a record list.
func Records(records []Record) Value {
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}
	return List(items)
}

// ValueOf normalizes decoded data (JSON, YAML, Go literals) into a Value.
// Typed slices become lists and string-keyed maps become maps.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case *Value:
		if t == nil {
			return Value{}
		}
		return *t
	case map[string]any:
		return Map(t)
	case []any:
		return List(t)
	case []Record:
		return Records(t)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return Scalar(v)
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return List(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Scalar(v)
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return Map(m)
	default:
		return Scalar(v)
	}
}

// Kind reports the shape of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsScalar returns the wrapped scalar.
func (v Value) AsScalar() (any, bool) {
	return v.scalar, v.kind == KindScalar
}

// AsMap returns the wrapped map.
func (v Value) AsMap() (map[string]any, bool) {
	return v.m, v.kind == KindMap
}

// AsList returns the wrapped sequence.
func (v Value) AsList() ([]any, bool) {
	return v.list, v.kind == KindList
}

// Records returns the list elements as records. It fails when the value is not
// a list or when any element is not a string-keyed map.
func (v Value) Records() ([]Record, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]Record, len(v.list))
	for i, item := range v.list {
		r, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}

// Len returns the number of elements of a list or map, 1 for a scalar and 0 for null.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindScalar:
		return 1
	default:
		return 0
	}
}

// Interface returns the underlying Go value (nil, scalar, map[string]any or []any).
func (v Value) Interface() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindMap:
		return v.m
	case KindList:
		return v.list
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
	*v = ValueOf(raw)
	return nil
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}
