package model

import "fmt"

const KindTreeEnsemble = "tree_ensemble"

// Aggregation modes of a TreeEnsemble.
const (
	// AggregateMean averages leaf probabilities (random forest).
	AggregateMean = "mean"
	// AggregateLogitSum sums leaf margins plus BaseScore and applies Sigmoid (gradient boosting).
	AggregateLogitSum = "logit_sum"
)

// Node is one node of a flattened binary tree. Leaves carry Value; split
// nodes send x[Feature] <= Threshold to Left, everything else to Right.
type Node struct {
	Leaf      bool    `json:"leaf,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) eval(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// validate requires children to come after their parent, which rules out cycles.
func (t Tree) validate(width int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: empty tree", ErrInvalidArtifact)
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= width {
			return fmt.Errorf("%w: node %d splits on feature %d outside width %d", ErrInvalidArtifact, i, n.Feature, width)
		}
		for _, c := range []int{n.Left, n.Right} {
			if c <= i || c >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d has child %d out of order", ErrInvalidArtifact, i, c)
			}
		}
	}
	return nil
}

// TreeEnsemble covers random forests and boosted trees.
type TreeEnsemble struct {
	Trees       []Tree
	Aggregation string
	BaseScore   float64
	NumFeatures int
}

type treeParams struct {
	Trees       []Tree  `json:"trees"`
	Aggregation string  `json:"aggregation"`
	BaseScore   float64 `json:"base_score,omitempty"`
	NumFeatures int     `json:"num_features"`
}

func (p treeParams) validate() error {
	if p.NumFeatures <= 0 {
		return fmt.Errorf("%w: num_features must be positive", ErrInvalidArtifact)
	}
	if len(p.Trees) == 0 {
		return fmt.Errorf("%w: ensemble has no trees", ErrInvalidArtifact)
	}
	switch p.Aggregation {
	case AggregateMean, AggregateLogitSum:
	default:
		return fmt.Errorf("%w: unknown aggregation %q", ErrInvalidArtifact, p.Aggregation)
	}
	for _, t := range p.Trees {
		if err := t.validate(p.NumFeatures); err != nil {
			return err
		}
	}
	return nil
}

func (m *TreeEnsemble) Kind() string { return KindTreeEnsemble }
func (m *TreeEnsemble) Width() int   { return m.NumFeatures }

func (m *TreeEnsemble) PredictProba(x []float64) float64 {
	var sum float64
	for _, t := range m.Trees {
		sum += t.eval(x)
	}
	if m.Aggregation == AggregateLogitSum {
		return Sigmoid(sum + m.BaseScore)
	}
	return sum / float64(len(m.Trees))
}
