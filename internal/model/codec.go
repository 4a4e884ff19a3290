package model

import (
	"encoding/json"
	"fmt"
)

// FileExt is the extension of model and transform artifacts on disk.
const FileExt = "json"

type envelope struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Decode parses a model artifact.
func Decode(data []byte) (Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	switch env.Kind {
	case KindLogisticRegression, KindLinearSVC, KindLinearRegression:
		var p linearParams
		if err := unmarshalParams(env, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		switch env.Kind {
		case KindLogisticRegression:
			return &LogisticRegression{Coef: p.Coef, Intercept: p.Intercept}, nil
		case KindLinearSVC:
			return &LinearSVC{Coef: p.Coef, Intercept: p.Intercept}, nil
		default:
			return &LinearRegression{Coef: p.Coef, Intercept: p.Intercept}, nil
		}
	case KindTreeEnsemble:
		var p treeParams
		if err := unmarshalParams(env, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return &TreeEnsemble{Trees: p.Trees, Aggregation: p.Aggregation, BaseScore: p.BaseScore, NumFeatures: p.NumFeatures}, nil
	case KindRuleClassifier:
		var p ruleParams
		if err := unmarshalParams(env, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		return &RuleClassifier{Rules: p.Rules, Default: p.Default, NumFeatures: p.NumFeatures}, nil
	default:
		return nil, fmt.Errorf("%w: unknown model kind %q", ErrInvalidArtifact, env.Kind)
	}
}

// Encode serializes m in the format Decode reads.
func Encode(m Model) ([]byte, error) {
	var params any
	switch v := m.(type) {
	case *LogisticRegression:
		params = linearParams{Coef: v.Coef, Intercept: v.Intercept}
	case *LinearSVC:
		params = linearParams{Coef: v.Coef, Intercept: v.Intercept}
	case *LinearRegression:
		params = linearParams{Coef: v.Coef, Intercept: v.Intercept}
	case *TreeEnsemble:
		params = treeParams{Trees: v.Trees, Aggregation: v.Aggregation, BaseScore: v.BaseScore, NumFeatures: v.NumFeatures}
	case *RuleClassifier:
		params = ruleParams{Rules: v.Rules, Default: v.Default, NumFeatures: v.NumFeatures}
	default:
		return nil, fmt.Errorf("cannot encode model of type %T", m)
	}
	return marshalEnvelope(m.Kind(), params)
}

// DecodeTransform parses a preprocessing artifact.
func DecodeTransform(data []byte) (Transform, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	var p scalerParams
	if err := unmarshalParams(env, &p); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindStandardScaler:
		if err := checkSameLen("mean/scale", p.Mean, p.Scale); err != nil {
			return nil, err
		}
		return &StandardScaler{Mean: p.Mean, Scale: p.Scale}, nil
	case KindMinMaxScaler:
		if err := checkSameLen("min/scale", p.Min, p.Scale); err != nil {
			return nil, err
		}
		return &MinMaxScaler{Min: p.Min, Scale: p.Scale}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transform kind %q", ErrInvalidArtifact, env.Kind)
	}
}

func EncodeTransform(t Transform) ([]byte, error) {
	switch v := t.(type) {
	case *StandardScaler:
		return marshalEnvelope(v.Kind(), scalerParams{Mean: v.Mean, Scale: v.Scale})
	case *MinMaxScaler:
		return marshalEnvelope(v.Kind(), scalerParams{Min: v.Min, Scale: v.Scale})
	default:
		return nil, fmt.Errorf("cannot encode transform of type %T", t)
	}
}

func unmarshalParams(env envelope, into any) error {
	if len(env.Params) == 0 {
		return fmt.Errorf("%w: %s artifact has no params", ErrInvalidArtifact, env.Kind)
	}
	if err := json.Unmarshal(env.Params, into); err != nil {
		return fmt.Errorf("%w: %s params: %v", ErrInvalidArtifact, env.Kind, err)
	}
	return nil
}

func marshalEnvelope(kind string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(envelope{Kind: kind, Params: raw}, "", "  ")
}
