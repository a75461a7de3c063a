package util

import "math"

// SanitizeFloat returns nil for NaN and ±Inf so the value survives JSON encoding.
func SanitizeFloat(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// SanitizeJSON walks maps and slices and replaces non-finite floats with nil.
// Everything else is returned unchanged.
func SanitizeJSON(v any) any {
	switch x := v.(type) {
	case float64:
		if p := SanitizeFloat(x); p != nil {
			return *p
		}
		return nil
	case float32:
		return SanitizeJSON(float64(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = SanitizeJSON(val)
		}
		return out
	case map[string]float64:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = SanitizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = SanitizeJSON(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = SanitizeJSON(val)
		}
		return out
	case [][]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = SanitizeJSON(val)
		}
		return out
	default:
		return v
	}
}
