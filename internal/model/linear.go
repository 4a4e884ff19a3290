package model

import "fmt"

const (
	KindLogisticRegression = "logistic_regression"
	KindLinearSVC          = "linear_svc"
	KindLinearRegression   = "linear_regression"
)

type linearParams struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func (p linearParams) validate() error {
	if len(p.Coef) == 0 {
		return fmt.Errorf("%w: empty coefficient vector", ErrInvalidArtifact)
	}
	return nil
}

// LogisticRegression scores sigmoid(coef·x + intercept).
type LogisticRegression struct {
	Coef      []float64
	Intercept float64
}

func (m *LogisticRegression) Kind() string { return KindLogisticRegression }
func (m *LogisticRegression) Width() int   { return len(m.Coef) }

func (m *LogisticRegression) PredictProba(x []float64) float64 {
	return Sigmoid(dot(m.Coef, x) + m.Intercept)
}

// LinearSVC exposes only its margin.
type LinearSVC struct {
	Coef      []float64
	Intercept float64
}

func (m *LinearSVC) Kind() string { return KindLinearSVC }
func (m *LinearSVC) Width() int   { return len(m.Coef) }

func (m *LinearSVC) DecisionFunction(x []float64) float64 {
	return dot(m.Coef, x) + m.Intercept
}

// LinearRegression is a raw scorer: its output is not bounded.
type LinearRegression struct {
	Coef      []float64
	Intercept float64
}

func (m *LinearRegression) Kind() string { return KindLinearRegression }
func (m *LinearRegression) Width() int   { return len(m.Coef) }

func (m *LinearRegression) Predict(x []float64) float64 {
	return dot(m.Coef, x) + m.Intercept
}
