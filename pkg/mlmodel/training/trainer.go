package training

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

var (
	// ErrUnsupportedModel is returned for model names outside models.SupportedModelTypes
	ErrUnsupportedModel = errors.New("model name not supported")
	// ErrNotFitted is returned when predicting with an untrained regressor
	ErrNotFitted = errors.New("model is not fitted")
)

// Regressor is the contract every trainable model satisfies
type Regressor interface {
	// Fit trains the model on rows x with targets y
	Fit(x [][]float64, y []float64) error

	// Predict returns one prediction per row
	Predict(x [][]float64) ([]float64, error)

	// Type returns the model type this regressor implements
	Type() models.ModelType

	// Params returns the resolved hyperparameters
	Params() map[string]float64
}

// seeder is implemented by regressors that draw random numbers while fitting
type seeder interface {
	setSeed(seed int64)
}

// NewRegressor creates an unfitted regressor for name. params override the
// model defaults; keys the model does not know are rejected.
func NewRegressor(name models.ModelType, params map[string]float64) (Regressor, error) {
	switch name {
	case models.ModelTypeLightGBM:
		p, err := resolveParams(name, gradientBoostingDefaults, params)
		if err != nil {
			return nil, err
		}
		return newGradientBoosting(p), nil
	case models.ModelTypeRandomForest:
		p, err := resolveParams(name, randomForestDefaults, params)
		if err != nil {
			return nil, err
		}
		return newRandomForest(p), nil
	case models.ModelTypeXGBoost:
		p, err := resolveParams(name, xgboostDefaults, params)
		if err != nil {
			return nil, err
		}
		return newXGBoost(p), nil
	case models.ModelTypeLinearRegression:
		p, err := resolveParams(name, linearDefaults, params)
		if err != nil {
			return nil, err
		}
		return newLinearRegression(p), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
	}
}

// DefaultParams returns a copy of the default hyperparameters for name
func DefaultParams(name models.ModelType) (map[string]float64, error) {
	var defaults map[string]float64
	switch name {
	case models.ModelTypeLightGBM:
		defaults = gradientBoostingDefaults
	case models.ModelTypeRandomForest:
		defaults = randomForestDefaults
	case models.ModelTypeXGBoost:
		defaults = xgboostDefaults
	case models.ModelTypeLinearRegression:
		defaults = linearDefaults
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
	}
	return copyParams(defaults), nil
}

func resolveParams(name models.ModelType, defaults, given map[string]float64) (map[string]float64, error) {
	out := copyParams(defaults)
	for k, v := range given {
		if _, ok := defaults[k]; !ok {
			return nil, fmt.Errorf("unknown hyperparameter %q for %s", k, name)
		}
		out[k] = v
	}
	return out, nil
}

func copyParams(p map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Trainer dispatches on the configured model name, optionally tunes, and fits
type Trainer struct {
	log logger.Logger
}

// NewTrainer creates a trainer; a nil logger discards output
func NewTrainer(log logger.Logger) *Trainer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Trainer{log: log}
}

// Train fits the configured model on split's training partition. When
// cfg.FineTuning is set the hyperparameters come from a tuning search
// scored on the held-out partition. Params are logged to rec.
func (t *Trainer) Train(ctx context.Context, split *models.Split, cfg models.TrainingConfig, rec tracking.Recorder) (*Model, error) {
	if rec == nil {
		rec = tracking.Discard
	}
	if !cfg.ModelName.IsSupported() {
		err := fmt.Errorf("%w: %q", ErrUnsupportedModel, cfg.ModelName)
		t.log.Error("Training failed", logger.Error(err))
		return nil, err
	}
	if split == nil {
		return nil, fmt.Errorf("no training data provided")
	}
	if err := split.Validate(); err != nil {
		t.log.Error("Training failed", logger.Error(err))
		return nil, err
	}

	params := copyParams(cfg.Hyperparameters)
	if cfg.FineTuning {
		tuner := NewHyperparameterTuner(cfg.Trials, cfg.RandomSeed, t.log)
		result, err := tuner.Optimize(ctx, cfg.ModelName, split)
		if err != nil {
			t.log.Error("Hyperparameter tuning failed", logger.Error(err))
			return nil, fmt.Errorf("hyperparameter tuning: %w", err)
		}
		for k, v := range result.BestParams {
			params[k] = v
		}
	}

	reg, err := NewRegressor(cfg.ModelName, params)
	if err != nil {
		t.log.Error("Training failed", logger.Error(err))
		return nil, err
	}
	if seeded, ok := reg.(seeder); ok {
		seeded.setSeed(cfg.RandomSeed)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	if err := reg.Fit(split.XTrain, split.YTrain); err != nil {
		t.log.Error("Training failed", logger.String("model", string(cfg.ModelName)), logger.Error(err))
		return nil, fmt.Errorf("failed to fit %s: %w", cfg.ModelName, err)
	}

	if err := rec.LogParams(ctx, paramStrings(cfg, reg.Params())); err != nil {
		t.log.Warn("Failed to record training params", logger.Error(err))
	}

	t.log.Info("Model trained",
		logger.String("model", string(cfg.ModelName)),
		logger.Bool("fine_tuning", cfg.FineTuning),
		logger.Int("train_rows", len(split.XTrain)),
		logger.Duration("duration", time.Since(start)))

	return NewModel(reg, split.FeatureNames, split.XTrain), nil
}

// paramStrings renders hyperparameters the way the tracker stores them
func paramStrings(cfg models.TrainingConfig, params map[string]float64) map[string]string {
	out := map[string]string{
		"model_name":  string(cfg.ModelName),
		"fine_tuning": strconv.FormatBool(cfg.FineTuning),
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = strconv.FormatFloat(params[k], 'g', -1, 64)
	}
	return out
}
