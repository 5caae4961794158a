package training

import (
	"fmt"
	"math/rand"
	"sort"
)

// TreeNode is one node of a fitted regression tree. Samples with
// x[Feature] <= Threshold go left.
type TreeNode struct {
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *TreeNode `json:"left,omitempty"`
	Right     *TreeNode `json:"right,omitempty"`
	Value     float64   `json:"value"`
	Leaf      bool      `json:"leaf,omitempty"`
}

func (n *TreeNode) predict(x []float64) float64 {
	node := n
	for !node.Leaf {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// scale multiplies every leaf value by f
func (n *TreeNode) scale(f float64) {
	if n.Leaf {
		n.Value *= f
		return
	}
	n.Left.scale(f)
	n.Right.scale(f)
}

// depth returns the number of edges on the longest root-to-leaf path
func (n *TreeNode) depth() int {
	if n == nil || n.Leaf {
		return 0
	}
	l, r := n.Left.depth(), n.Right.depth()
	if l > r {
		return l + 1
	}
	return r + 1
}

// treeParams controls tree growth. The same builder grows plain CART trees
// (grad=-y, hess=1, lambda=0) and boosting trees on loss gradients.
type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 means all features
	lambda          float64
	gamma           float64
	minChildWeight  float64
}

type treeBuilder struct {
	params treeParams
	x      [][]float64
	grad   []float64
	hess   []float64
	rng    *rand.Rand
}

func newTreeBuilder(p treeParams, x [][]float64, grad, hess []float64, rng *rand.Rand) *treeBuilder {
	if p.minSamplesSplit < 2 {
		p.minSamplesSplit = 2
	}
	if p.minSamplesLeaf < 1 {
		p.minSamplesLeaf = 1
	}
	return &treeBuilder{params: p, x: x, grad: grad, hess: hess, rng: rng}
}

func (b *treeBuilder) leafValue(g, h float64) float64 {
	denom := h + b.params.lambda
	if denom == 0 {
		return 0
	}
	return -g / denom
}

func (b *treeBuilder) score(g, h float64) float64 {
	denom := h + b.params.lambda
	if denom == 0 {
		return 0
	}
	return g * g / denom
}

type splitCandidate struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *treeBuilder) build(idx []int, depth int) *TreeNode {
	var g, h float64
	for _, i := range idx {
		g += b.grad[i]
		h += b.hess[i]
	}
	leaf := &TreeNode{Leaf: true, Value: b.leafValue(g, h)}

	if (b.params.maxDepth > 0 && depth >= b.params.maxDepth) || len(idx) < b.params.minSamplesSplit {
		return leaf
	}

	best := b.bestSplit(idx, g, h)
	if best == nil {
		return leaf
	}

	return &TreeNode{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      b.build(best.left, depth+1),
		Right:     b.build(best.right, depth+1),
	}
}

func (b *treeBuilder) candidateFeatures() []int {
	p := len(b.x[0])
	if b.params.maxFeatures <= 0 || b.params.maxFeatures >= p {
		all := make([]int, p)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return b.rng.Perm(p)[:b.params.maxFeatures]
}

func (b *treeBuilder) bestSplit(idx []int, g, h float64) *splitCandidate {
	parent := b.score(g, h)
	minLeaf := b.params.minSamplesLeaf
	var best *splitCandidate

	sorted := make([]int, len(idx))
	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		var gl, hl float64
		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			gl += b.grad[i]
			hl += b.hess[i]

			cur, next := b.x[i][f], b.x[sorted[pos+1]][f]
			if cur == next {
				continue
			}
			nl := pos + 1
			if nl < minLeaf || len(sorted)-nl < minLeaf {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.minChildWeight || hr < b.params.minChildWeight {
				continue
			}

			gain := 0.5*(b.score(gl, hl)+b.score(gr, hr)-parent) - b.params.gamma
			if gain <= 1e-12 || (best != nil && gain <= best.gain) {
				continue
			}
			if best == nil {
				best = &splitCandidate{}
			}
			best.feature = f
			best.threshold = cur + (next-cur)/2
			best.gain = gain
		}
	}
	if best == nil {
		return nil
	}

	for _, i := range idx {
		if b.x[i][best.feature] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best
}

// RegressionTree is a CART regressor minimising squared error
type RegressionTree struct {
	MaxDepth        int       `json:"max_depth"`
	MinSamplesSplit int       `json:"min_samples_split"`
	MinSamplesLeaf  int       `json:"min_samples_leaf"`
	MaxFeatures     int       `json:"max_features"`
	Seed            int64     `json:"seed"`
	Root            *TreeNode `json:"root"`
}

// Fit grows the tree on all rows of x
func (t *RegressionTree) Fit(x [][]float64, y []float64) error {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	return t.fitRows(x, y, idx)
}

// fitRows grows the tree on the given row indices (duplicates allowed)
func (t *RegressionTree) fitRows(x [][]float64, y []float64, idx []int) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	if len(idx) == 0 {
		return fmt.Errorf("no rows to fit")
	}

	grad := make([]float64, len(y))
	hess := make([]float64, len(y))
	for i, v := range y {
		grad[i] = -v
		hess[i] = 1
	}

	params := treeParams{
		maxDepth:        t.MaxDepth,
		minSamplesSplit: t.MinSamplesSplit,
		minSamplesLeaf:  t.MinSamplesLeaf,
		maxFeatures:     t.MaxFeatures,
	}
	b := newTreeBuilder(params, x, grad, hess, rand.New(rand.NewSource(t.Seed)))
	t.Root = b.build(idx, 0)
	return nil
}

// Predict returns one prediction per row
func (t *RegressionTree) Predict(x [][]float64) ([]float64, error) {
	if t.Root == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = t.Root.predict(row)
	}
	return out, nil
}

// Depth returns the depth of the fitted tree
func (t *RegressionTree) Depth() int {
	return t.Root.depth()
}

func checkXY(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("no training data provided")
	}
	if len(x) != len(y) {
		return fmt.Errorf("feature rows (%d) and targets (%d) differ", len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return fmt.Errorf("training data has no features")
	}
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}
