// Package predict turns an artifact set and a feature payload into a binary
// label and, when the model can provide one, a probability.
package predict

import (
	"errors"
	"fmt"
	"math"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/model"
	"github.com/mcules/model-registry/internal/registry"
)

// DefaultThreshold is the probability at or above which the label is 1.
const DefaultThreshold = 0.5

var (
	ErrShapeMismatch = errors.New("feature vector width does not match model")
	ErrInvalidOutput = errors.New("model produced an invalid output")
)

type Result struct {
	Label int
	// Probability is nil when the model only classifies. Callers must read
	// nil as "unavailable", not as zero.
	Probability *float64
}

type Predictor struct {
	Threshold float64
}

func New(threshold float64) Predictor {
	return Predictor{Threshold: threshold}
}

// Predict vectorizes payload with the set's declared feature order and scores it.
func (p Predictor) Predict(set *registry.ArtifactSet, payload features.Payload) (Result, error) {
	x, err := features.Vectorize(payload, set.Metadata.Features)
	if err != nil {
		return Result{}, err
	}
	return p.PredictVector(set, x)
}

// PredictVector applies the transform, if any, then the model.
func (p Predictor) PredictVector(set *registry.ArtifactSet, x []float64) (Result, error) {
	if set.Transform != nil {
		if set.Transform.Width() != len(x) {
			return Result{}, fmt.Errorf("%w: transform expects %d columns, got %d", ErrShapeMismatch, set.Transform.Width(), len(x))
		}
		x = set.Transform.Apply(x)
	}
	if set.Model.Width() != len(x) {
		return Result{}, fmt.Errorf("%w: model expects %d columns, got %d", ErrShapeMismatch, set.Model.Width(), len(x))
	}

	prob, ok, err := probability(set.Model, x)
	if err != nil {
		return Result{}, err
	}
	if ok {
		label := 0
		if prob >= p.threshold() {
			label = 1
		}
		return Result{Label: label, Probability: &prob}, nil
	}

	lc, isLabel := set.Model.(model.LabelClassifier)
	if !isLabel {
		return Result{}, fmt.Errorf("%w: %s exposes no scoring capability", ErrInvalidOutput, set.Model.Kind())
	}
	return Result{Label: lc.PredictLabel(x)}, nil
}

func (p Predictor) threshold() float64 {
	if p.Threshold <= 0 || p.Threshold > 1 {
		return DefaultThreshold
	}
	return p.Threshold
}

// probability derives the positive-class probability by capability, in
// priority order. ok is false when the model only classifies.
func probability(m model.Model, x []float64) (prob float64, ok bool, err error) {
	switch v := m.(type) {
	case model.ProbabilisticClassifier:
		prob = v.PredictProba(x)
	case model.MarginClassifier:
		s := v.DecisionFunction(x)
		if math.IsNaN(s) {
			return 0, false, fmt.Errorf("%w: NaN decision score", ErrInvalidOutput)
		}
		prob = model.Sigmoid(s)
	case model.RawScorer:
		prob = v.Predict(x)
	default:
		return 0, false, nil
	}
	if math.IsNaN(prob) {
		return 0, false, fmt.Errorf("%w: NaN probability from %s", ErrInvalidOutput, m.Kind())
	}
	return clamp(prob), true, nil
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
