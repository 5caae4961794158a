package models

import (
	"fmt"
	"math"
)

// ModelType names one of the supported regressors
type ModelType string

const (
	ModelTypeLightGBM         ModelType = "lightgbm"          // gradient-boosted trees
	ModelTypeRandomForest     ModelType = "randomforest"      // bagged regression trees
	ModelTypeLinearRegression ModelType = "linear_regression" // ordinary least squares
	ModelTypeXGBoost          ModelType = "xgboost"           // regularised second-order boosting
)

// SupportedModelTypes lists every name the trainer dispatches on
var SupportedModelTypes = []ModelType{
	ModelTypeLightGBM,
	ModelTypeRandomForest,
	ModelTypeLinearRegression,
	ModelTypeXGBoost,
}

// IsSupported reports whether t is one of SupportedModelTypes
func (t ModelType) IsSupported() bool {
	for _, s := range SupportedModelTypes {
		if s == t {
			return true
		}
	}
	return false
}

// TrainingConfig holds configuration for a training run
type TrainingConfig struct {
	ModelName       ModelType          `json:"model_name" yaml:"model_name"`
	FineTuning      bool               `json:"fine_tuning" yaml:"fine_tuning"`
	Trials          int                `json:"trials" yaml:"trials"`       // hyperparameter search budget
	TestSize        float64            `json:"test_size" yaml:"test_size"` // e.g. 0.2 for an 80/20 split
	RandomSeed      int64              `json:"random_seed" yaml:"random_seed"`
	Hyperparameters map[string]float64 `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
}

// DefaultTrainingConfig mirrors the step defaults of the training pipeline
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		ModelName:  ModelTypeLightGBM,
		FineTuning: false,
		Trials:     10,
		TestSize:   0.2,
		RandomSeed: 42,
	}
}

// Validate checks the training configuration
func (c *TrainingConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if !c.ModelName.IsSupported() {
		return fmt.Errorf("invalid model type: %s", c.ModelName)
	}
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return fmt.Errorf("test_size must be in (0, 1), got %v", c.TestSize)
	}
	if c.FineTuning && c.Trials <= 0 {
		return fmt.Errorf("trials must be positive when fine tuning")
	}
	return nil
}

// EvaluationResult holds the held-out metrics of a trained model
type EvaluationResult struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2_score"`
}

// Valid reports whether every metric is a finite number
func (e *EvaluationResult) Valid() bool {
	for _, v := range []float64{e.MSE, e.RMSE, e.R2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
