package training

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/evaluation"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// syntheticSplit draws y = 3a - 2b + 1 + noise with a fixed seed
func syntheticSplit(n int) *models.Split {
	rng := rand.New(rand.NewSource(1))
	row := func() ([]float64, float64) {
		a, b := rng.Float64()*4, rng.Float64()*4
		return []float64{a, b}, 3*a - 2*b + 1 + rng.NormFloat64()*0.05
	}

	split := &models.Split{FeatureNames: []string{"a", "b"}}
	nTest := n / 5
	for i := 0; i < n; i++ {
		x, y := row()
		if i < nTest {
			split.XTest = append(split.XTest, x)
			split.YTest = append(split.YTest, y)
		} else {
			split.XTrain = append(split.XTrain, x)
			split.YTrain = append(split.YTrain, y)
		}
	}
	return split
}

func TestNewRegressorUnsupported(t *testing.T) {
	_, err := NewRegressor("svm", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	_, err = DefaultParams("svm")
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestNewRegressorRejectsUnknownParam(t *testing.T) {
	_, err := NewRegressor(models.ModelTypeLinearRegression, map[string]float64{"depth": 3})
	assert.Error(t, err)
}

func TestRegressorsFitAndPredict(t *testing.T) {
	split := syntheticSplit(250)

	for _, name := range models.SupportedModelTypes {
		t.Run(string(name), func(t *testing.T) {
			reg, err := NewRegressor(name, nil)
			require.NoError(t, err)
			assert.Equal(t, name, reg.Type())

			_, err = reg.Predict(split.XTest)
			assert.ErrorIs(t, err, ErrNotFitted)

			require.NoError(t, reg.Fit(split.XTrain, split.YTrain))

			pred, err := reg.Predict(split.XTest)
			require.NoError(t, err)
			require.Len(t, pred, len(split.YTest))

			r2, err := evaluation.R2(split.YTest, pred)
			require.NoError(t, err)
			assert.Greater(t, r2, 0.8)
		})
	}
}

func TestFitRejectsBadShapes(t *testing.T) {
	reg, err := NewRegressor(models.ModelTypeXGBoost, nil)
	require.NoError(t, err)

	assert.Error(t, reg.Fit(nil, nil))
	assert.Error(t, reg.Fit([][]float64{{1}, {2}}, []float64{1}))
	assert.Error(t, reg.Fit([][]float64{{1}, {2, 3}}, []float64{1, 2}))
}

func TestLinearRegressionExact(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}, {3}}
	y := []float64{1, 3, 5, 7}

	reg, err := NewRegressor(models.ModelTypeLinearRegression, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Fit(x, y))

	lr := reg.(*LinearRegression)
	assert.InDelta(t, 1, lr.Intercept, 1e-9)
	assert.InDelta(t, 2, lr.Coefficients[0], 1e-9)
}

func TestLinearRegressionRankDeficient(t *testing.T) {
	// Full one-hot block next to the intercept
	x := [][]float64{{1, 0}, {0, 1}, {1, 0}, {0, 1}}
	y := []float64{2, 4, 2, 4}

	reg, err := NewRegressor(models.ModelTypeLinearRegression, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Fit(x, y))

	pred, err := reg.Predict(x)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, y[i], pred[i], 1e-4)
	}
}

func TestRegressionTreeMaxDepth(t *testing.T) {
	split := syntheticSplit(200)
	tree := &RegressionTree{MaxDepth: 3}
	require.NoError(t, tree.Fit(split.XTrain, split.YTrain))
	assert.LessOrEqual(t, tree.Depth(), 3)
	assert.Greater(t, tree.Depth(), 0)
}

func TestRegressionTreeConstantTarget(t *testing.T) {
	tree := &RegressionTree{MaxDepth: 5}
	require.NoError(t, tree.Fit([][]float64{{1}, {2}, {3}}, []float64{4, 4, 4}))
	assert.True(t, tree.Root.Leaf)
	assert.Equal(t, 4.0, tree.Root.Value)
}

func TestRandomForestDeterministic(t *testing.T) {
	split := syntheticSplit(150)

	predict := func() []float64 {
		reg, err := NewRegressor(models.ModelTypeRandomForest, map[string]float64{"n_estimators": 8, "max_features": 0.5})
		require.NoError(t, err)
		reg.(seeder).setSeed(7)
		require.NoError(t, reg.Fit(split.XTrain, split.YTrain))
		pred, err := reg.Predict(split.XTest)
		require.NoError(t, err)
		return pred
	}

	assert.Equal(t, predict(), predict())
}

func TestModelSaveLoadRoundTrip(t *testing.T) {
	split := syntheticSplit(120)
	dir := t.TempDir()

	for _, name := range models.SupportedModelTypes {
		t.Run(string(name), func(t *testing.T) {
			reg, err := NewRegressor(name, nil)
			require.NoError(t, err)
			require.NoError(t, reg.Fit(split.XTrain, split.YTrain))

			model := NewModel(reg, split.FeatureNames, split.XTrain)
			model.RunID = "run-1"
			path := filepath.Join(dir, "nested", string(name)+".json")
			require.NoError(t, SaveModel(path, model))

			loaded, err := LoadModel(path)
			require.NoError(t, err)
			assert.Equal(t, name, loaded.ModelType)
			assert.Equal(t, "run-1", loaded.RunID)
			assert.Equal(t, split.FeatureNames, loaded.FeatureNames)

			want, err := model.Predict(split.XTest)
			require.NoError(t, err)
			got, err := loaded.Predict(split.XTest)
			require.NoError(t, err)
			assert.InDeltaSlice(t, want, got, 1e-9)
		})
	}
}

func TestLoadModelMissing(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestModelPredictColumnsUsesDefaults(t *testing.T) {
	reg, err := NewRegressor(models.ModelTypeLinearRegression, nil)
	require.NoError(t, err)
	x := [][]float64{{0, 10}, {1, 10}, {2, 30}, {3, 30}}
	y := []float64{1, 3, 5, 7}
	require.NoError(t, reg.Fit(x, y))

	model := NewModel(reg, []string{"a", "b"}, x)
	assert.Equal(t, []float64{1.5, 20}, model.Defaults)

	full, err := model.Predict([][]float64{{2, 20}})
	require.NoError(t, err)

	partial, err := model.PredictColumns([]string{"ignored", "a"}, [][]float64{{99, 2}})
	require.NoError(t, err)
	assert.InDelta(t, full[0], partial[0], 1e-9)

	single, err := model.PredictRecord(map[string]float64{"a": 2})
	require.NoError(t, err)
	assert.InDelta(t, full[0], single, 1e-9)

	_, err = model.Predict([][]float64{{1}})
	assert.Error(t, err)
}

func TestTunerOptimize(t *testing.T) {
	split := syntheticSplit(120)
	tuner := NewHyperparameterTuner(3, 42, nil)

	result, err := tuner.Optimize(context.Background(), models.ModelTypeXGBoost, split)
	require.NoError(t, err)
	assert.Len(t, result.Trials, 3)
	require.NotNil(t, result.BestParams)
	for _, trial := range result.Trials {
		assert.GreaterOrEqual(t, trial.MSE, result.BestMSE)
	}
	lr := result.BestParams["learning_rate"]
	assert.True(t, lr >= 0.01 && lr <= 0.3)

	_, err = tuner.Optimize(context.Background(), "svm", split)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestTunerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHyperparameterTuner(5, 1, nil).Optimize(ctx, models.ModelTypeLinearRegression, syntheticSplit(50))
	assert.ErrorIs(t, err, context.Canceled)
}

type paramRecorder struct {
	params map[string]string
}

func (p *paramRecorder) LogParams(_ context.Context, params map[string]string) error {
	for k, v := range params {
		p.params[k] = v
	}
	return nil
}

func (p *paramRecorder) LogMetric(context.Context, string, float64) error { return nil }

func TestTrainerTrain(t *testing.T) {
	split := syntheticSplit(150)
	rec := &paramRecorder{params: map[string]string{}}

	cfg := models.DefaultTrainingConfig()
	cfg.ModelName = models.ModelTypeRandomForest
	cfg.FineTuning = true
	cfg.Trials = 2

	model, err := NewTrainer(nil).Train(context.Background(), split, cfg, rec)
	require.NoError(t, err)
	assert.Equal(t, models.ModelTypeRandomForest, model.ModelType)
	assert.Equal(t, "randomforest", rec.params["model_name"])
	assert.Equal(t, "true", rec.params["fine_tuning"])
	assert.Contains(t, rec.params, "n_estimators")

	pred, err := model.Predict(split.XTest)
	require.NoError(t, err)
	assert.Len(t, pred, len(split.XTest))
}

func TestTrainerUnsupportedModel(t *testing.T) {
	cfg := models.DefaultTrainingConfig()
	cfg.ModelName = "catboost"

	_, err := NewTrainer(nil).Train(context.Background(), syntheticSplit(20), cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
