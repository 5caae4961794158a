package training

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var gradientBoostingDefaults = map[string]float64{
	"n_estimators":     100,
	"learning_rate":    0.1,
	"max_depth":        5,
	"min_samples_leaf": 20,
	"subsample":        1.0,
	"lambda":           0,
}

var xgboostDefaults = map[string]float64{
	"n_estimators":     100,
	"learning_rate":    0.3,
	"max_depth":        6,
	"min_child_weight": 1,
	"subsample":        1.0,
	"lambda":           1,
	"gamma":            0,
}

// boostedEnsemble is the fitted state shared by both boosting flavours:
// prediction is BaseScore plus the sum of (already shrunk) tree outputs.
type boostedEnsemble struct {
	BaseScore float64     `json:"base_score"`
	Trees     []*TreeNode `json:"trees"`
}

// fitBoosting runs squared-loss boosting. Gradients are pred-y, hessians 1.
func (e *boostedEnsemble) fitBoosting(x [][]float64, y []float64, p treeParams, rounds int, eta, subsample float64, seed int64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	if rounds < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", rounds)
	}
	if eta <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", eta)
	}
	if subsample <= 0 || subsample > 1 {
		subsample = 1
	}

	n := len(y)
	base := stat.Mean(y, nil)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}

	rng := rand.New(rand.NewSource(seed))
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	trees := make([]*TreeNode, 0, rounds)
	for round := 0; round < rounds; round++ {
		for i := range grad {
			grad[i] = pred[i] - y[i]
		}

		rows := all
		if subsample < 1 {
			rows = rows[:0:0]
			for _, i := range all {
				if rng.Float64() < subsample {
					rows = append(rows, i)
				}
			}
			if len(rows) == 0 {
				rows = all
			}
		}

		tree := newTreeBuilder(p, x, grad, hess, rng).build(rows, 0)
		tree.scale(eta)
		trees = append(trees, tree)

		for i, row := range x {
			pred[i] += tree.predict(row)
		}
	}

	e.BaseScore = base
	e.Trees = trees
	return nil
}

func (e *boostedEnsemble) predict(x [][]float64) ([]float64, error) {
	if e.Trees == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		v := e.BaseScore
		for _, t := range e.Trees {
			v += t.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

// GradientBoosting is depth-limited gradient boosting with a minimum leaf
// size. It serves the lightgbm model name.
type GradientBoosting struct {
	boostedEnsemble
	params map[string]float64
	seed   int64
}

func newGradientBoosting(params map[string]float64) *GradientBoosting {
	return &GradientBoosting{params: params, seed: 42}
}

func (m *GradientBoosting) setSeed(seed int64) { m.seed = seed }

// Type returns models.ModelTypeLightGBM
func (m *GradientBoosting) Type() models.ModelType { return models.ModelTypeLightGBM }

// Params returns the resolved hyperparameters
func (m *GradientBoosting) Params() map[string]float64 { return copyParams(m.params) }

// Fit trains the ensemble
func (m *GradientBoosting) Fit(x [][]float64, y []float64) error {
	p := treeParams{
		maxDepth:       int(m.params["max_depth"]),
		minSamplesLeaf: int(m.params["min_samples_leaf"]),
		lambda:         m.params["lambda"],
	}
	return m.fitBoosting(x, y, p, int(m.params["n_estimators"]), m.params["learning_rate"], m.params["subsample"], m.seed)
}

// Predict returns one prediction per row
func (m *GradientBoosting) Predict(x [][]float64) ([]float64, error) {
	return m.predict(x)
}

// XGBoost is second-order boosting with L2 leaf regularisation (lambda),
// a split penalty (gamma) and a minimum hessian per child
type XGBoost struct {
	boostedEnsemble
	params map[string]float64
	seed   int64
}

func newXGBoost(params map[string]float64) *XGBoost {
	return &XGBoost{params: params, seed: 42}
}

func (m *XGBoost) setSeed(seed int64) { m.seed = seed }

// Type returns models.ModelTypeXGBoost
func (m *XGBoost) Type() models.ModelType { return models.ModelTypeXGBoost }

// Params returns the resolved hyperparameters
func (m *XGBoost) Params() map[string]float64 { return copyParams(m.params) }

// Fit trains the ensemble
func (m *XGBoost) Fit(x [][]float64, y []float64) error {
	p := treeParams{
		maxDepth:       int(m.params["max_depth"]),
		lambda:         m.params["lambda"],
		gamma:          m.params["gamma"],
		minChildWeight: m.params["min_child_weight"],
	}
	return m.fitBoosting(x, y, p, int(m.params["n_estimators"]), m.params["learning_rate"], m.params["subsample"], m.seed)
}

// Predict returns one prediction per row
func (m *XGBoost) Predict(x [][]float64) ([]float64, error) {
	return m.predict(x)
}
