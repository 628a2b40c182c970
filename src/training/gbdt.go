package training

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const minSplitGain = 1e-12

// BoosterParams configure gradient boosting.
type BoosterParams struct {
	NEstimators    int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
}

// TreeNode is a split (Leaf false) or a leaf holding a residual mean.
// Rows with x[Feature] <= Threshold go Left.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"v"`
}

type RegressionTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// GradientBoostedRegressor is a squared-loss boosted ensemble of regression trees.
type GradientBoostedRegressor struct {
	Params      BoosterParams    `json:"params"`
	NumFeatures int              `json:"num_features"`
	BaseScore   float64          `json:"base_score"`
	Trees       []RegressionTree `json:"trees"`
	Gains       []float64        `json:"gains"`
}

// -----------------------------------------------------------------------------

// FitGradientBoosting fits trees level by level using exact greedy splits.
// Fitting is fully deterministic: ties keep the first feature and threshold found.
func FitGradientBoosting(X [][]float64, y []float64, p BoosterParams) (*GradientBoostedRegressor, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("fit needs matching non-empty inputs, got %d rows and %d targets", n, len(y))
	}
	nf := len(X[0])
	for i, row := range X {
		if len(row) != nf {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), nf)
		}
	}
	if p.NEstimators <= 0 || p.MaxDepth <= 0 || p.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid booster params %+v", p)
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = 1
	}

	m := &GradientBoostedRegressor{
		Params:      p,
		NumFeatures: nf,
		BaseScore:   stat.Mean(y, nil),
		Trees:       make([]RegressionTree, 0, p.NEstimators),
		Gains:       make([]float64, nf),
	}

	// Presort row indices once per feature.
	sorted := make([][]int, nf)
	for f := 0; f < nf; f++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return X[idx[a]][f] < X[idx[b]][f] })
		sorted[f] = idx
	}

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.BaseScore
	}
	residual := make([]float64, n)

	for t := 0; t < p.NEstimators; t++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}
		tree := fitTree(X, residual, sorted, p, m.Gains)
		m.Trees = append(m.Trees, tree)
		for i := range pred {
			pred[i] += p.LearningRate * tree.predict(X[i])
		}
	}

	return m, nil
}

// -----------------------------------------------------------------------------

// Predict returns the model-space prediction for one row.
func (m *GradientBoostedRegressor) Predict(x []float64) float64 {
	out := m.BaseScore
	for i := range m.Trees {
		out += m.Params.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

// -----------------------------------------------------------------------------

// PredictBatch returns model-space predictions for every row.
func (m *GradientBoostedRegressor) PredictBatch(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Predict(row)
	}
	return out
}

// -----------------------------------------------------------------------------

func (t *RegressionTree) predict(x []float64) float64 {
	node := 0
	for !t.Nodes[node].Leaf {
		n := t.Nodes[node]
		if x[n.Feature] <= n.Threshold {
			node = n.Left
		} else {
			node = n.Right
		}
	}
	return t.Nodes[node].Value
}

// -----------------------------------------------------------------------------

type splitScan struct {
	sum   float64
	count int
	last  float64
}

type splitChoice struct {
	ok        bool
	feature   int
	threshold float64
	gain      float64
}

// fitTree grows one tree breadth first. nodeOf tracks the open node of each row,
// -1 once the row has reached a finished leaf.
func fitTree(X [][]float64, residual []float64, sorted [][]int, p BoosterParams, gains []float64) RegressionTree {
	n := len(residual)
	tree := RegressionTree{Nodes: []TreeNode{{}}}
	nodeOf := make([]int, n)
	active := []int{0}

	for depth := 0; len(active) > 0; depth++ {
		size := len(tree.Nodes)
		sums := make([]float64, size)
		counts := make([]int, size)
		for i, nd := range nodeOf {
			if nd >= 0 {
				sums[nd] += residual[i]
				counts[nd]++
			}
		}

		best := make([]splitChoice, size)
		if depth < p.MaxDepth {
			isActive := make([]bool, size)
			for _, nd := range active {
				if counts[nd] >= 2*p.MinSamplesLeaf {
					isActive[nd] = true
				}
			}
			scans := make([]splitScan, size)

			for f := range sorted {
				for _, nd := range active {
					scans[nd] = splitScan{}
				}
				for _, i := range sorted[f] {
					nd := nodeOf[i]
					if nd < 0 || !isActive[nd] {
						continue
					}
					s := &scans[nd]
					v := X[i][f]
					if s.count > 0 && v != s.last {
						leftN := s.count
						rightN := counts[nd] - leftN
						if leftN >= p.MinSamplesLeaf && rightN >= p.MinSamplesLeaf {
							rightSum := sums[nd] - s.sum
							gain := s.sum*s.sum/float64(leftN) + rightSum*rightSum/float64(rightN) -
								sums[nd]*sums[nd]/float64(counts[nd])
							if gain > minSplitGain && (!best[nd].ok || gain > best[nd].gain) {
								threshold := s.last + (v-s.last)/2
								if threshold >= v {
									threshold = s.last
								}
								best[nd] = splitChoice{ok: true, feature: f, threshold: threshold, gain: gain}
							}
						}
					}
					s.sum += residual[i]
					s.count++
					s.last = v
				}
			}
		}

		var next []int
		children := make(map[int][2]int)
		for _, nd := range active {
			b := best[nd]
			if !b.ok {
				value := 0.0
				if counts[nd] > 0 {
					value = sums[nd] / float64(counts[nd])
				}
				tree.Nodes[nd] = TreeNode{Leaf: true, Value: value}
				continue
			}
			left := len(tree.Nodes)
			right := left + 1
			tree.Nodes = append(tree.Nodes, TreeNode{}, TreeNode{})
			tree.Nodes[nd] = TreeNode{Feature: b.feature, Threshold: b.threshold, Left: left, Right: right}
			gains[b.feature] += b.gain
			children[nd] = [2]int{left, right}
			next = append(next, left, right)
		}

		for i, nd := range nodeOf {
			if nd < 0 {
				continue
			}
			c, ok := children[nd]
			if !ok {
				nodeOf[i] = -1
				continue
			}
			split := tree.Nodes[nd]
			if X[i][split.Feature] <= split.Threshold {
				nodeOf[i] = c[0]
			} else {
				nodeOf[i] = c[1]
			}
		}
		active = next
	}

	return tree
}
