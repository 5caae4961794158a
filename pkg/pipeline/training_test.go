package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/satisfaction-pipeline/internal/fixtures"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/ingest"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/mlmodel/training"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

func newTracker(t *testing.T) *tracking.SQLiteTracker {
	t.Helper()
	tracker, err := tracking.NewSQLiteTracker(filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func testOptions(t *testing.T, dataPath string) Options {
	cfg := models.DefaultTrainingConfig()
	cfg.ModelName = models.ModelTypeLinearRegression
	return Options{
		DataPath:  dataPath,
		ModelPath: filepath.Join(t.TempDir(), "artifacts", "model.json"),
		Training:  cfg,
	}
}

func TestTrainingPipelineRun(t *testing.T) {
	ctx := context.Background()
	dataPath := fixtures.WriteOrdersCSV(t, t.TempDir(), 120, 3)
	tracker := newTracker(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	opts := testOptions(t, dataPath)

	p := NewTrainingPipeline(opts, tracker, nil, metrics)
	res, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, DefaultName, res.PipelineName)
	assert.Equal(t, 120, res.TrainRows+res.TestRows)
	assert.Equal(t, 24, res.TestRows)
	assert.Equal(t, opts.ModelPath, res.ArtifactPath)
	require.NotNil(t, res.Evaluation)
	assert.True(t, res.Evaluation.Valid())

	fp, err := ingest.Fingerprint(dataPath)
	require.NoError(t, err)
	assert.Equal(t, fp, res.DataFingerprint)

	run, err := tracker.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, run.Status)
	assert.Equal(t, opts.ModelPath, run.ArtifactPath)
	assert.Equal(t, "linear_regression", run.Params["model_name"])
	assert.Equal(t, fp, run.Params["data_fingerprint"])
	assert.Equal(t, res.Evaluation.R2, run.Metrics["r2_score"])
	assert.Equal(t, res.Evaluation.RMSE, run.Metrics["rmse"])
	assert.Contains(t, run.Metrics, "mse")

	loaded, err := training.LoadModel(opts.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, loaded.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(DefaultName, "FINISHED")))
	assert.Equal(t, 5, testutil.CollectAndCount(metrics.stepDuration))
}

func TestTrainingPipelineMissingData(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	opts := testOptions(t, filepath.Join(t.TempDir(), "absent.csv"))

	_, err := NewTrainingPipeline(opts, tracker, nil, metrics).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrDataNotFound)
	assert.Contains(t, err.Error(), "step ingest_data")

	runs, err := tracker.ListRuns(ctx, tracking.DefaultExperiment, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(DefaultName, "FAILED")))

	_, statErr := os.Stat(opts.ModelPath)
	assert.True(t, os.IsNotExist(statErr), "no artifact is written for a failed run")
}

func TestTrainingPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dataPath := fixtures.WriteOrdersCSV(t, t.TempDir(), 30, 1)

	_, err := NewTrainingPipeline(testOptions(t, dataPath), newTracker(t), nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainingPipelineRejectsBadConfig(t *testing.T) {
	opts := testOptions(t, "unused.csv")
	opts.Training.ModelName = "svm"

	_, err := NewTrainingPipeline(opts, newTracker(t), nil, nil).Run(context.Background())
	assert.Error(t, err)
}
