package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/evaluation"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

type dimKind int

const (
	dimInt dimKind = iota
	dimFloat
	dimLogFloat
)

// searchDim is one hyperparameter range of a search space
type searchDim struct {
	name      string
	kind      dimKind
	low, high float64
}

func (d searchDim) sample(rng *rand.Rand) float64 {
	switch d.kind {
	case dimInt:
		return d.low + float64(rng.Intn(int(d.high-d.low)+1))
	case dimLogFloat:
		lo, hi := math.Log(d.low), math.Log(d.high)
		return math.Exp(lo + rng.Float64()*(hi-lo))
	default:
		return d.low + rng.Float64()*(d.high-d.low)
	}
}

var searchSpaces = map[models.ModelType][]searchDim{
	models.ModelTypeLightGBM: {
		{"n_estimators", dimInt, 50, 200},
		{"learning_rate", dimLogFloat, 0.01, 0.3},
		{"max_depth", dimInt, 3, 10},
	},
	models.ModelTypeXGBoost: {
		{"n_estimators", dimInt, 50, 200},
		{"learning_rate", dimLogFloat, 0.01, 0.3},
		{"max_depth", dimInt, 3, 10},
		{"lambda", dimLogFloat, 0.1, 10},
	},
	models.ModelTypeRandomForest: {
		{"n_estimators", dimInt, 10, 100},
		{"max_depth", dimInt, 3, 15},
		{"min_samples_split", dimInt, 2, 20},
	},
	models.ModelTypeLinearRegression: {
		{"fit_intercept", dimInt, 0, 1},
	},
}

// Trial is one evaluated hyperparameter sample
type Trial struct {
	Number int                `json:"number"`
	Params map[string]float64 `json:"params"`
	MSE    float64            `json:"mse"`
	Err    string             `json:"error,omitempty"`
}

// TuningResult holds the best sample and the full trial history
type TuningResult struct {
	BestParams map[string]float64 `json:"best_params"`
	BestMSE    float64            `json:"best_mse"`
	Trials     []Trial            `json:"trials"`
}

// HyperparameterTuner runs a bounded, seeded random search. Each trial fits
// on the training partition and is scored by MSE on the held-out partition.
type HyperparameterTuner struct {
	trials int
	seed   int64
	log    logger.Logger
}

// NewHyperparameterTuner creates a tuner; trials <= 0 uses 10
func NewHyperparameterTuner(trials int, seed int64, log logger.Logger) *HyperparameterTuner {
	if trials <= 0 {
		trials = 10
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HyperparameterTuner{trials: trials, seed: seed, log: log}
}

// Optimize searches the space of modelType and returns the lowest-MSE
// params. Failed trials are recorded and skipped; the search fails only if
// every trial fails. Cancellation is checked between trials.
func (t *HyperparameterTuner) Optimize(ctx context.Context, modelType models.ModelType, split *models.Split) (*TuningResult, error) {
	space, ok := searchSpaces[modelType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, modelType)
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	if len(split.XTest) == 0 {
		return nil, fmt.Errorf("tuning needs a non-empty test partition")
	}

	rng := rand.New(rand.NewSource(t.seed))
	result := &TuningResult{BestMSE: math.Inf(1)}
	var lastErr error

	for n := 0; n < t.trials; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := make(map[string]float64, len(space))
		for _, d := range space {
			params[d.name] = d.sample(rng)
		}

		trial := Trial{Number: n, Params: params}
		mse, err := t.score(modelType, params, split)
		if err != nil {
			lastErr = err
			trial.Err = err.Error()
			trial.MSE = math.NaN()
			t.log.Warn("Tuning trial failed", logger.Int("trial", n), logger.Error(err))
		} else {
			trial.MSE = mse
			if mse < result.BestMSE {
				result.BestMSE = mse
				result.BestParams = params
			}
		}
		result.Trials = append(result.Trials, trial)
	}

	if result.BestParams == nil {
		return nil, fmt.Errorf("all %d trials failed: %w", t.trials, lastErr)
	}

	t.log.Info("Hyperparameter tuning finished",
		logger.String("model", string(modelType)),
		logger.Int("trials", t.trials),
		logger.Float64("best_mse", result.BestMSE),
		logger.Any("best_params", result.BestParams))
	return result, nil
}

func (t *HyperparameterTuner) score(modelType models.ModelType, params map[string]float64, split *models.Split) (float64, error) {
	reg, err := NewRegressor(modelType, params)
	if err != nil {
		return 0, err
	}
	if seeded, ok := reg.(seeder); ok {
		seeded.setSeed(t.seed)
	}
	if err := reg.Fit(split.XTrain, split.YTrain); err != nil {
		return 0, err
	}
	pred, err := reg.Predict(split.XTest)
	if err != nil {
		return 0, err
	}
	return evaluation.MSE(split.YTest, pred)
}
