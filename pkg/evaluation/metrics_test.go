package evaluation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceVector(t *testing.T) {
	yTrue := []float64{1, 2, 4}
	yPred := []float64{1, 2, 3}

	mse, err := MSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, mse, 1e-12)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(1.0/3.0), rmse, 1e-12)

	r2, err := R2(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 11.0/14.0, r2, 1e-12)
}

func TestMetricErrors(t *testing.T) {
	_, err := MSE(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = R2([]float64{1, 2}, []float64{1})
	assert.Error(t, err)

	_, err = RMSE([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestR2ConstantTarget(t *testing.T) {
	r2, err := R2([]float64{3, 3, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r2)

	r2, err = R2([]float64{3, 3, 3}, []float64{3, 3, 3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r2, "exact prediction of a constant target")
}

func TestPerfectPrediction(t *testing.T) {
	res, err := Score([]float64{1, 2, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.MSE)
	assert.Equal(t, 1.0, res.R2)
	assert.True(t, res.Valid())
}

type fixedPredictor struct {
	out []float64
	err error
}

func (p fixedPredictor) Predict([][]float64) ([]float64, error) { return p.out, p.err }

type memRecorder struct {
	metrics map[string]float64
}

func (m *memRecorder) LogParams(context.Context, map[string]string) error { return nil }
func (m *memRecorder) LogMetric(_ context.Context, key string, value float64) error {
	m.metrics[key] = value
	return nil
}

func TestEvaluateLogsMetrics(t *testing.T) {
	rec := &memRecorder{metrics: map[string]float64{}}
	x := [][]float64{{0}, {0}, {0}}

	res, err := Evaluate(context.Background(), fixedPredictor{out: []float64{1, 2, 3}}, x, []float64{1, 2, 4}, rec)
	require.NoError(t, err)

	assert.InDelta(t, 1.0/3.0, res.MSE, 1e-12)
	assert.Equal(t, res.MSE, rec.metrics["mse"])
	assert.Equal(t, res.RMSE, rec.metrics["rmse"])
	assert.Equal(t, res.R2, rec.metrics["r2_score"])
}

func TestEvaluatePredictError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Evaluate(context.Background(), fixedPredictor{err: boom}, nil, nil, nil)
	assert.ErrorIs(t, err, boom)
}
