package training

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

var randomForestDefaults = map[string]float64{
	"n_estimators":      50,
	"max_depth":         10,
	"min_samples_split": 2,
	"min_samples_leaf":  1,
	"max_features":      1.0, // fraction of features tried per split
}

// RandomForest averages bootstrap-trained regression trees
type RandomForest struct {
	params map[string]float64
	seed   int64

	Trees []*RegressionTree `json:"trees"`
}

func newRandomForest(params map[string]float64) *RandomForest {
	return &RandomForest{params: params, seed: 42}
}

func (f *RandomForest) setSeed(seed int64) { f.seed = seed }

// Type returns models.ModelTypeRandomForest
func (f *RandomForest) Type() models.ModelType { return models.ModelTypeRandomForest }

// Params returns the resolved hyperparameters
func (f *RandomForest) Params() map[string]float64 { return copyParams(f.params) }

// Fit trains every tree concurrently. Each tree draws its bootstrap sample
// and feature subsets from its own seeded source, so the result does not
// depend on scheduling.
func (f *RandomForest) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	nTrees := int(f.params["n_estimators"])
	if nTrees < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", nTrees)
	}

	p := len(x[0])
	maxFeatures := int(math.Ceil(f.params["max_features"] * float64(p)))
	if maxFeatures < 1 || maxFeatures > p {
		maxFeatures = p
	}

	trees := make([]*RegressionTree, nTrees)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		i := i
		g.Go(func() error {
			seed := f.seed + int64(i)
			rng := rand.New(rand.NewSource(seed))
			sample := make([]int, len(x))
			for j := range sample {
				sample[j] = rng.Intn(len(x))
			}
			tree := &RegressionTree{
				MaxDepth:        int(f.params["max_depth"]),
				MinSamplesSplit: int(f.params["min_samples_split"]),
				MinSamplesLeaf:  int(f.params["min_samples_leaf"]),
				MaxFeatures:     maxFeatures,
				Seed:            seed,
			}
			if err := tree.fitRows(x, y, sample); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.Trees = trees
	return nil
}

// Predict averages the tree predictions
func (f *RandomForest) Predict(x [][]float64) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for _, t := range f.Trees {
		for i, row := range x {
			out[i] += t.Root.predict(row)
		}
	}
	n := float64(len(f.Trees))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}
