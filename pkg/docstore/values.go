package docstore

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Normalize converts data into the canonical value set the stores hold:
// nil, bool, string, int64, float64, time.Time, []byte, []any and
// map[string]any. The input is never aliased by the result.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrUnsupportedValue)
		}
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func NormalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return uintToInt64(uint64(t))
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return uintToInt64(t)
	case float32:
		return float64(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedValue, t.String())
		}
		return f, nil
	case time.Time:
		return t.UTC(), nil
	case []byte:
		cp := make([]byte, len(t))
		copy(cp, t)
		return cp, nil
	case map[string]any:
		return Normalize(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := NormalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			nv, err := NormalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key type %s", ErrUnsupportedValue, rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nv, err := NormalizeValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = nv
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return NormalizeValue(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func uintToInt64(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, u)
	}
	return int64(u), nil
}

// CloneData deep-copies normalized data.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		cp := make([]byte, len(t))
		copy(cp, t)
		return cp
	default:
		return v
	}
}

// ApplySet returns the document data after a Set. With merge, nested maps
// are merged recursively into existing; otherwise data replaces it.
func ApplySet(existing, data map[string]any, merge bool) map[string]any {
	if !merge || existing == nil {
		return CloneData(data)
	}
	out := CloneData(existing)
	mergeInto(out, data)
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				mergeInto(cur, sub)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
}

// ApplyUpdate returns existing with the given top-level fields replaced.
func ApplyUpdate(existing, data map[string]any) map[string]any {
	out := CloneData(existing)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal reports whether two normalized values are deeply equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
