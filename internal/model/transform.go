package model

import "fmt"

const (
	KindStandardScaler = "standard_scaler"
	KindMinMaxScaler   = "minmax_scaler"
)

// Transform preprocesses a feature vector before scoring.
type Transform interface {
	Kind() string
	Width() int
	Apply(x []float64) []float64
}

// StandardScaler computes (x - mean) / scale; a zero scale is treated as 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

type scalerParams struct {
	Mean  []float64 `json:"mean,omitempty"`
	Scale []float64 `json:"scale"`
	Min   []float64 `json:"min,omitempty"`
}

func (m *StandardScaler) Kind() string { return KindStandardScaler }
func (m *StandardScaler) Width() int   { return len(m.Mean) }

func (m *StandardScaler) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		s := m.Scale[i]
		if s == 0 {
			s = 1
		}
		out[i] = (x[i] - m.Mean[i]) / s
	}
	return out
}

// MinMaxScaler computes x*scale + min.
type MinMaxScaler struct {
	Min   []float64
	Scale []float64
}

func (m *MinMaxScaler) Kind() string { return KindMinMaxScaler }
func (m *MinMaxScaler) Width() int   { return len(m.Min) }

func (m *MinMaxScaler) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i]*m.Scale[i] + m.Min[i]
	}
	return out
}

func checkSameLen(name string, a, b []float64) error {
	if len(a) == 0 || len(a) != len(b) {
		return fmt.Errorf("%w: %s vectors must be non-empty and of equal length (%d, %d)", ErrInvalidArtifact, name, len(a), len(b))
	}
	return nil
}
