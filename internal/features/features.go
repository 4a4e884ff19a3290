// Package features holds the feature contract shared by the trainer and the
// scoring path: the default column order, payload coercion, vectorization and
// numeric constraint checks.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultOrder is the column order used when a model's metadata does not
// declare one. Training-side tools must emit vectors in this order too.
var DefaultOrder = []string{"user_id", "amount", "location", "hour", "dayofweek"}

// Payload is a caller-supplied mapping of feature name to raw value.
type Payload map[string]any

type MissingFeatureError struct {
	Name string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing feature: %s", e.Name)
}

type InvalidFeatureTypeError struct {
	Name  string
	Value any
}

func (e *InvalidFeatureTypeError) Error() string {
	return fmt.Sprintf("feature %s: value %v is not a number", e.Name, e.Value)
}

// Number coerces a raw payload value into a finite float64.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Order returns declared when it is non-empty, otherwise DefaultOrder.
// The second result reports whether the default was used.
func Order(declared []string) ([]string, bool) {
	if len(declared) > 0 {
		return declared, false
	}
	return DefaultOrder, true
}

// Vectorize maps payload into a numeric vector following order, or
// DefaultOrder when order is empty.
func Vectorize(p Payload, order []string) ([]float64, error) {
	cols, _ := Order(order)
	out := make([]float64, len(cols))
	for i, name := range cols {
		raw, ok := p[name]
		if !ok {
			return nil, &MissingFeatureError{Name: name}
		}
		f, ok := Number(raw)
		if !ok {
			return nil, &InvalidFeatureTypeError{Name: name, Value: raw}
		}
		out[i] = f
	}
	return out, nil
}
