// Package evaluation scores regression predictions.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

// ErrEmptyInput is returned when there is nothing to score
var ErrEmptyInput = errors.New("empty input")

// Predictor is anything that maps feature rows to predictions
type Predictor interface {
	Predict(x [][]float64) ([]float64, error)
}

func check(yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return ErrEmptyInput
	}
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("length mismatch: %d targets, %d predictions", len(yTrue), len(yPred))
	}
	return nil
}

// MSE returns mean((yTrue-yPred)²)
func MSE(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	residuals := make([]float64, len(yTrue))
	floats.SubTo(residuals, yTrue, yPred)
	return floats.Dot(residuals, residuals) / float64(len(residuals)), nil
}

// RMSE returns the square root of MSE
func RMSE(yTrue, yPred []float64) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// R2 returns 1 - SS_res/SS_tot. A constant target (SS_tot = 0) scores 1
// when predicted exactly and 0 otherwise.
func R2(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	mean := stat.Mean(yTrue, nil)
	var ssRes, ssTot float64
	for i, y := range yTrue {
		r := y - yPred[i]
		d := y - mean
		ssRes += r * r
		ssTot += d * d
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

// Score computes all three metrics at once
func Score(yTrue, yPred []float64) (*models.EvaluationResult, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	r2, err := R2(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	return &models.EvaluationResult{MSE: mse, RMSE: math.Sqrt(mse), R2: r2}, nil
}

// Evaluator scores a model on held-out data and records the metrics
type Evaluator struct {
	log logger.Logger
}

// NewEvaluator creates an evaluator; a nil logger discards output
func NewEvaluator(log logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate predicts x with model, scores against y and logs mse, rmse and
// r2_score to rec
func (e *Evaluator) Evaluate(ctx context.Context, model Predictor, x [][]float64, y []float64, rec tracking.Recorder) (*models.EvaluationResult, error) {
	if rec == nil {
		rec = tracking.Discard
	}

	pred, err := model.Predict(x)
	if err != nil {
		e.log.Error("Error in evaluating model", logger.Error(err))
		return nil, fmt.Errorf("failed to predict: %w", err)
	}

	result, err := Score(y, pred)
	if err != nil {
		e.log.Error("Error in evaluating model", logger.Error(err))
		return nil, err
	}

	for key, value := range map[string]float64{
		"mse":      result.MSE,
		"rmse":     result.RMSE,
		"r2_score": result.R2,
	} {
		if err := rec.LogMetric(ctx, key, value); err != nil {
			e.log.Warn("Failed to record metric", logger.String("metric", key), logger.Error(err))
		}
	}

	e.log.Info("Model evaluated",
		logger.Float64("mse", result.MSE),
		logger.Float64("rmse", result.RMSE),
		logger.Float64("r2_score", result.R2))
	return result, nil
}

// Evaluate uses a no-op logger
func Evaluate(ctx context.Context, model Predictor, x [][]float64, y []float64, rec tracking.Recorder) (*models.EvaluationResult, error) {
	return NewEvaluator(nil).Evaluate(ctx, model, x, y, rec)
}
