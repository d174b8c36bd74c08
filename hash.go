package dstore

import (
	"math"
	"reflect"

	"github.com/denismitr/dstore/coerce"
)

// Hash is a raw wire hash keyed by storage key.
type Hash map[string]interface{}

func (h Hash) String(k string) string {
	v, ok := h[k].(string)
	if !ok {
		return ""
	}
	return v
}

func (h Hash) HasString(k string) bool {
	_, ok := h[k].(string)
	return ok
}

// Int truncates any numeric value, float64 from decoded JSON included.
func (h Hash) Int(k string) int {
	f, ok := coerce.Float(h[k])
	if !ok {
		return 0
	}
	return int(f)
}

func (h Hash) HasInt(k string) bool {
	switch v := h[k].(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	}
	return false
}

func (h Hash) Bool(k string) bool {
	v, ok := h[k].(bool)
	if !ok {
		return false
	}
	return v
}

func (h Hash) HasBool(k string) bool {
	_, ok := h[k].(bool)
	return ok
}

func (h Hash) Float(k string) float64 {
	f, ok := coerce.Float(h[k])
	if !ok {
		return 0
	}
	return f
}

func (h Hash) HasFloat(k string) bool {
	_, ok := h[k].(float64)
	return ok
}

// Hash returns the nested hash under k.
func (h Hash) Hash(k string) (Hash, bool) {
	return asHash(h[k])
}

func (h Hash) clone() Hash {
	c := make(Hash, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

func asHash(v interface{}) (Hash, bool) {
	switch typedValue := v.(type) {
	case Hash:
		return typedValue, true
	case map[string]interface{}:
		return Hash(typedValue), true
	}
	return nil, false
}

// asSlice flattens any slice or array value into []interface{}.
func asSlice(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}

	if s, ok := v.([]interface{}); ok {
		return s, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// equalValues is reflect.DeepEqual that also treats numbers of different
// Go types as equal, since decoded JSON turns every number into float64.
func equalValues(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}

	fa, okA := numberValue(a)
	fb, okB := numberValue(b)
	return okA && okB && fa == fb
}

func numberValue(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
