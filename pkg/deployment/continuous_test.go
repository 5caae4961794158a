package deployment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimir-aip/satisfaction-pipeline/internal/fixtures"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/dataprep"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/pipeline"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

type stubRunner struct {
	result *pipeline.Result
	err    error
}

func (s *stubRunner) Run(context.Context) (*pipeline.Result, error) { return s.result, s.err }

type stubDeployer struct {
	requests  []DeployRequest
	services  []*models.PredictionService
	findErr   error
	deployErr error
	state     models.ServiceState
}

func (s *stubDeployer) Deploy(_ context.Context, req DeployRequest) (*models.PredictionService, error) {
	s.requests = append(s.requests, req)
	if s.deployErr != nil {
		return nil, s.deployErr
	}
	state := s.state
	if state == "" {
		state = models.ServiceStateRunning
	}
	return &models.PredictionService{Name: req.Name, RunID: req.RunID, State: state}, nil
}

func (s *stubDeployer) Find(context.Context, ServiceSelector) ([]*models.PredictionService, error) {
	return s.services, s.findErr
}

func (s *stubDeployer) Delete(context.Context, string) error { return nil }

func startedRun(t *testing.T) (*tracking.SQLiteTracker, string) {
	t.Helper()
	tracker, err := tracking.NewSQLiteTracker(filepath.Join(t.TempDir(), "tracking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	run, err := tracker.StartRun(context.Background(), "", "continuous_deployment_pipeline")
	require.NoError(t, err)
	return tracker, run.ID
}

func TestContinuousDeploymentDeploysAboveThreshold(t *testing.T) {
	ctx := context.Background()
	tracker, runID := startedRun(t)
	runner := &stubRunner{result: &pipeline.Result{
		RunID:        runID,
		Evaluation:   &models.EvaluationResult{R2: 0.4},
		ArtifactPath: "/models/model.json",
	}}
	deployer := &stubDeployer{}

	cd := NewContinuousDeployment(runner, tracker, deployer, testRequest(), nil)
	outcome, err := cd.Run(ctx, 0.3)
	require.NoError(t, err)

	assert.True(t, outcome.Decision.Deploy)
	assert.Equal(t, 0.4, outcome.Decision.Metric)
	require.NotNil(t, outcome.Service)
	require.Len(t, deployer.requests, 1)
	assert.Equal(t, runID, deployer.requests[0].RunID)
	assert.Equal(t, "/models/model.json", deployer.requests[0].ModelPath)

	run, err := tracker.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "true", run.Params["deploy_decision"])
	assert.Equal(t, "0.3", run.Params["min_accuracy"])
	assert.Equal(t, models.DeployStatusDeployed, run.Params[models.ParamDeployStatus])
}

func TestContinuousDeploymentSkipsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	tracker, runID := startedRun(t)
	runner := &stubRunner{result: &pipeline.Result{RunID: runID, Evaluation: &models.EvaluationResult{R2: 0.1}}}
	deployer := &stubDeployer{}

	outcome, err := NewContinuousDeployment(runner, tracker, deployer, testRequest(), nil).Run(ctx, 0.5)
	require.NoError(t, err)

	assert.False(t, outcome.Decision.Deploy)
	assert.Nil(t, outcome.Service)
	assert.Empty(t, deployer.requests)

	run, err := tracker.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "false", run.Params["deploy_decision"])
	assert.Equal(t, models.DeployStatusRejected, run.Params[models.ParamDeployStatus])
}

func TestContinuousDeploymentRecordsFailedRollout(t *testing.T) {
	ctx := context.Background()

	t.Run("deploy error", func(t *testing.T) {
		tracker, runID := startedRun(t)
		runner := &stubRunner{result: &pipeline.Result{RunID: runID, Evaluation: &models.EvaluationResult{R2: 0.9}}}
		boom := errors.New("cluster unreachable")

		_, err := NewContinuousDeployment(runner, tracker, &stubDeployer{deployErr: boom}, testRequest(), nil).Run(ctx, 0)
		assert.ErrorIs(t, err, boom)

		run, err := tracker.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, models.DeployStatusFailed, run.Params[models.ParamDeployStatus])
	})

	t.Run("rollout timed out", func(t *testing.T) {
		tracker, runID := startedRun(t)
		runner := &stubRunner{result: &pipeline.Result{RunID: runID, Evaluation: &models.EvaluationResult{R2: 0.9}}}

		outcome, err := NewContinuousDeployment(runner, tracker, &stubDeployer{state: models.ServiceStateFailed}, testRequest(), nil).Run(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, outcome.Service)
		assert.True(t, outcome.Service.IsFailed())

		run, err := tracker.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, models.DeployStatusFailed, run.Params[models.ParamDeployStatus])
	})
}

func TestContinuousDeploymentTrainingError(t *testing.T) {
	boom := errors.New("boom")
	cd := NewContinuousDeployment(&stubRunner{err: boom}, nil, &stubDeployer{}, testRequest(), nil)
	_, err := cd.Run(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
}

func TestInferencePipelineNoService(t *testing.T) {
	p := NewInferencePipeline(&stubDeployer{}, ServiceSelector{ModelName: "model"}, "unused.csv", 0, nil, nil)
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoService)
}

func TestInferencePipelineRun(t *testing.T) {
	var got models.InvocationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		preds := make([]float64, len(got.Data))
		for i := range preds {
			preds[i] = 4
		}
		json.NewEncoder(w).Encode(models.InvocationResponse{Predictions: preds})
	}))
	defer server.Close()

	dataPath := fixtures.WriteOrdersCSV(t, t.TempDir(), 150, 5)
	deployer := &stubDeployer{services: []*models.PredictionService{{
		Name:          "satisfaction-model",
		PredictionURL: server.URL + "/invocations",
		State:         models.ServiceStateRunning,
	}}}

	p := NewInferencePipeline(deployer, ServiceSelector{ModelName: "model"}, dataPath, 0, NewPredictionClient(time.Second), nil)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Predictions, DefaultBatchSize)
	assert.Equal(t, dataprep.FeatureColumns, got.Columns)
	require.Len(t, got.Data, DefaultBatchSize)
	assert.Len(t, got.Data[0], len(dataprep.FeatureColumns))
	// Row 0 of the fixture has no photo count
	assert.Nil(t, got.Data[0][7])
}

func TestPredictionClientErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewPredictionClient(time.Second)
	req := models.NewInvocationRequest([]string{"price"}, [][]float64{{1}})
	_, err := client.Predict(context.Background(), server.URL, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
