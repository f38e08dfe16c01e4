package recordstore

import (
	"encoding/json"
	"reflect"
	"time"
)

// Matches reports whether every filter entry is present in row with an
// equal value. An empty filter matches every row.
func Matches(row map[string]any, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := row[k]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || !Equal(got, want) {
			return false
		}
	}
	return true
}

// Equal compares two scalar values the way JSON and YAML decoders produce
// them: numbers of any Go type compare by value, times by instant.
func Equal(a, b any) bool {
	if fa, ok := Number(a); ok {
		fb, ok := Number(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// Number converts any Go numeric value, or a json.Number, to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
