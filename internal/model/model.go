// Package model defines the scoring capabilities a stored model can expose
// and the serialized artifact format the registry reads and writes.
//
// A model implements exactly one capability interface in practice; the
// predictor consults them in the order ProbabilisticClassifier,
// MarginClassifier, RawScorer, LabelClassifier.
package model

import (
	"errors"
	"math"
)

var ErrInvalidArtifact = errors.New("invalid model artifact")

type Model interface {
	// Kind is the artifact kind tag, e.g. "logistic_regression".
	Kind() string
	// Width is the number of input columns the model expects.
	Width() int
}

// ProbabilisticClassifier returns the probability of the positive class.
type ProbabilisticClassifier interface {
	Model
	PredictProba(x []float64) float64
}

// MarginClassifier returns an unbounded decision score; positive favours class 1.
type MarginClassifier interface {
	Model
	DecisionFunction(x []float64) float64
}

// RawScorer returns a scalar that is read as a probability after clamping.
type RawScorer interface {
	Model
	Predict(x []float64) float64
}

// LabelClassifier only produces a class label.
type LabelClassifier interface {
	Model
	PredictLabel(x []float64) int
}

// Sigmoid is the logistic function 1/(1+e^-s).
func Sigmoid(s float64) float64 {
	if s >= 0 {
		return 1 / (1 + math.Exp(-s))
	}
	e := math.Exp(s)
	return e / (1 + e)
}

func dot(w, x []float64) float64 {
	var s float64
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}
