package model

import "fmt"

const KindRuleClassifier = "rule_classifier"

// Rule fires when x[Feature] >= Threshold (or < Threshold when Below is set).
type Rule struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Below     bool    `json:"below,omitempty"`
	Label     int     `json:"label"`
}

// RuleClassifier returns the label of the first matching rule, else Default.
// It has no notion of probability.
type RuleClassifier struct {
	Rules       []Rule
	Default     int
	NumFeatures int
}

type ruleParams struct {
	Rules       []Rule `json:"rules"`
	Default     int    `json:"default"`
	NumFeatures int    `json:"num_features"`
}

func (p ruleParams) validate() error {
	if p.NumFeatures <= 0 {
		return fmt.Errorf("%w: num_features must be positive", ErrInvalidArtifact)
	}
	if p.Default != 0 && p.Default != 1 {
		return fmt.Errorf("%w: default label %d is not binary", ErrInvalidArtifact, p.Default)
	}
	for i, r := range p.Rules {
		if r.Feature < 0 || r.Feature >= p.NumFeatures {
			return fmt.Errorf("%w: rule %d uses feature %d outside width %d", ErrInvalidArtifact, i, r.Feature, p.NumFeatures)
		}
		if r.Label != 0 && r.Label != 1 {
			return fmt.Errorf("%w: rule %d label %d is not binary", ErrInvalidArtifact, i, r.Label)
		}
	}
	return nil
}

func (m *RuleClassifier) Kind() string { return KindRuleClassifier }
func (m *RuleClassifier) Width() int   { return m.NumFeatures }

func (m *RuleClassifier) PredictLabel(x []float64) int {
	for _, r := range m.Rules {
		v := x[r.Feature]
		if (!r.Below && v >= r.Threshold) || (r.Below && v < r.Threshold) {
			return r.Label
		}
	}
	return m.Default
}
