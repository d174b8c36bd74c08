package coerce

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	String  = "string"
	Number  = "number"
	Boolean = "boolean"
	Date    = "date"
)

// WireDateFormat is the layout dates are written in.
const WireDateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var acceptedDateLayouts = []string{
	WireDateFormat,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

var stringTransform = Transform{
	Deserialize: toString,
	Serialize:   toString,
}

var numberTransform = Transform{
	Deserialize: toNumber,
	Serialize:   toNumber,
}

var booleanTransform = Transform{
	Deserialize: toBoolean,
	Serialize:   toBoolean,
}

var dateTransform = Transform{
	Deserialize: toDate,
	Serialize:   fromDate,
}

func toString(v interface{}) interface{} {
	if v == nil || IsUndefined(v) {
		return nil
	}

	switch typedValue := v.(type) {
	case string:
		return typedValue
	case bool:
		return strconv.FormatBool(typedValue)
	case float64:
		return strconv.FormatFloat(typedValue, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typedValue), 'f', -1, 32)
	case json.Number:
		return typedValue.String()
	case time.Time:
		return typedValue.UTC().Format(WireDateFormat)
	case fmt.Stringer:
		return typedValue.String()
	}

	if f, ok := asFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprint(v)
}

func toNumber(v interface{}) interface{} {
	if v == nil || IsUndefined(v) {
		return nil
	}

	switch typedValue := v.(type) {
	case bool:
		if typedValue {
			return float64(1)
		}
		return float64(0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typedValue), 64)
		if err != nil {
			return nil
		}
		return f
	case json.Number:
		f, err := typedValue.Float64()
		if err != nil {
			return nil
		}
		return f
	}

	if f, ok := asFloat(v); ok {
		return f
	}

	return nil
}

// toBoolean covers "1", 1, true as true and "", 0, false, nil as false.
// Other strings go through strconv.ParseBool and are otherwise true when
// non-empty; other numbers are true when non-zero.
func toBoolean(v interface{}) interface{} {
	if v == nil || IsUndefined(v) {
		return false
	}

	switch typedValue := v.(type) {
	case bool:
		return typedValue
	case string:
		if typedValue == "" {
			return false
		}
		if b, err := strconv.ParseBool(typedValue); err == nil {
			return b
		}
		return true
	}

	if f, ok := asFloat(v); ok {
		return f != 0
	}

	return true
}

func toDate(v interface{}) interface{} {
	if v == nil || IsUndefined(v) {
		return v
	}

	switch typedValue := v.(type) {
	case time.Time:
		return typedValue
	case *time.Time:
		if typedValue == nil {
			return nil
		}
		return *typedValue
	case string:
		t, ok := parseDate(typedValue)
		if !ok {
			return nil
		}
		return t
	}

	if f, ok := asFloat(v); ok {
		return time.UnixMilli(int64(f)).UTC()
	}

	return nil
}

func fromDate(v interface{}) interface{} {
	d := toDate(v)
	if d == nil || IsUndefined(d) {
		return d
	}

	return d.(time.Time).UTC().Format(WireDateFormat)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}

	return 0, false
}

// Float converts any numeric value, numeric string included, to float64.
func Float(v interface{}) (float64, bool) {
	n := toNumber(v)
	if n == nil {
		return 0, false
	}

	return n.(float64), true
}
