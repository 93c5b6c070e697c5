package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SplitEmbedding removes the embedding from props and returns it. A nil or
// empty embedding yields nil. Props is not modified.
func SplitEmbedding(props map[string]any) (map[string]any, []float32, error) {
	rest := make(map[string]any, len(props))
	var vec []float32
	for k, v := range props {
		if k != EmbeddingProperty {
			rest[k] = v
			continue
		}
		var err error
		vec, err = ToFloat32s(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s property: %w", EmbeddingProperty, err)
		}
	}
	return rest, vec, nil
}

// ToFloat32s converts the vector representations seen across drivers into
// a []float32.
func ToFloat32s(v any) ([]float32, error) {
	switch vec := v.(type) {
	case nil:
		return nil, nil
	case []float32:
		if len(vec) == 0 {
			return nil, nil
		}
		return vec, nil
	case []float64:
		if len(vec) == 0 {
			return nil, nil
		}
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		if len(vec) == 0 {
			return nil, nil
		}
		out := make([]float32, len(vec))
		for i, e := range vec {
			f, ok := ToFloat64(e)
			if !ok {
				return nil, fmt.Errorf("element %d is %T", i, e)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}

// ToFloat32sOrNil is ToFloat32s for callers that only need the vector
// when it is well formed.
func ToFloat32sOrNil(v any) []float32 {
	vec, err := ToFloat32s(v)
	if err != nil {
		return nil
	}
	return vec
}

// ToFloat64s widens a vector for drivers that only accept float64 lists.
func ToFloat64s(vec []float32) []float64 {
	if vec == nil {
		return nil
	}
	out := make([]float64, len(vec))
	for i, f := range vec {
		out[i] = float64(f)
	}
	return out
}

// ToFloat64 normalizes the numeric types produced by Go code, JSON
// decoding and database drivers.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares property values, treating numbers of different Go
// types as equal when they hold the same value.
func ValuesEqual(a, b any) bool {
	fa, okA := ToFloat64(a)
	fb, okB := ToFloat64(b)
	if okA && okB {
		return fa == fb
	}
	if okA || okB {
		return false
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	return okA && okB && sa == sb
}

// PropString returns props[key] as a string, or "".
func PropString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// PropInt returns props[key] as an int, or 0.
func PropInt(props map[string]any, key string) int {
	f, ok := ToFloat64(props[key])
	if !ok || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

// SortByID orders nodes by id in place.
func SortByID(nodes []StoredNode) {
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
