// Package convert provides numeric coercion helpers for property maps.
//
// Entity properties are untyped (map[string]any). Values decoded from JSON
// arrive as float64, values built in-process may be int or int64, and some
// producers send numbers as strings. The analytics pipeline only cares
// whether a value is usable as a float64, so every extraction site goes
// through ToFloat64 rather than repeating the type switch.
package convert

import "strconv"

// ToFloat64 converts v to a float64 when it carries a numeric value.
// Strings are parsed with strconv.ParseFloat, so decimal and scientific
// notation both work. Returns (0, false) for anything non-numeric.
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ToFloat64Map extracts the numeric subset of a property map.
func ToFloat64Map(props map[string]any) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range props {
		if f, ok := ToFloat64(v); ok {
			out[k] = f
		}
	}
	return out
}
