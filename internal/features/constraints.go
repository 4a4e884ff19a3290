package features

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Bound is an inclusive numeric range; a nil side is unbounded.
type Bound struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Constraints maps a feature name to its bound.
type Constraints map[string]Bound

// DefaultConstraints apply to features whose model metadata declares no bound.
var DefaultConstraints = Constraints{
	"amount":    {Min: Float(0)},
	"hour":      {Min: Float(0), Max: Float(23)},
	"dayofweek": {Min: Float(0), Max: Float(6)},
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

type Violation struct {
	Feature string
	Message string
}

type ConstraintViolationError struct {
	Violations []Violation
}

func (e *ConstraintViolationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every constrained feature present in p against its bound.
// Absent or non-numeric features are skipped; presence and type are the
// vectorizer's concern.
func Validate(p Payload, c Constraints) []Violation {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Violation
	for _, name := range names {
		raw, ok := p[name]
		if !ok {
			continue
		}
		v, ok := Number(raw)
		if !ok {
			continue
		}
		b := c[name]
		if b.Min != nil && v < *b.Min {
			out = append(out, Violation{Feature: name, Message: fmt.Sprintf("%s must be ≥ %s", name, formatFloat(*b.Min))})
		}
		if b.Max != nil && v > *b.Max {
			out = append(out, Violation{Feature: name, Message: fmt.Sprintf("%s must be ≤ %s", name, formatFloat(*b.Max))})
		}
	}
	return out
}

// Check wraps the result of Validate into a ConstraintViolationError.
func Check(p Payload, c Constraints) error {
	if v := Validate(p, c); len(v) > 0 {
		return &ConstraintViolationError{Violations: v}
	}
	return nil
}

// Effective merges declared bounds over defaults. A declared bound replaces
// the default for that feature entirely.
func Effective(declared, defaults Constraints) Constraints {
	out := make(Constraints, len(declared)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range declared {
		out[k] = v
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
