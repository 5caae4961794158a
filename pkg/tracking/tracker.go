// Package tracking records pipeline runs with their parameters and metrics.
package tracking

import (
	"context"
	"errors"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// DefaultExperiment is the experiment runs are filed under unless configured
const DefaultExperiment = "customer_satisfaction_experiment"

// ErrRunNotFound is returned when a run ID is unknown
var ErrRunNotFound = errors.New("run not found")

// Tracker persists runs
type Tracker interface {
	StartRun(ctx context.Context, experiment, pipeline string) (*models.Run, error)
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetric(ctx context.Context, runID, key string, value float64) error
	EndRun(ctx context.Context, runID string, status models.RunStatus, artifactPath string) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	ListRuns(ctx context.Context, experiment string, limit int) ([]*models.Run, error)
	LatestRun(ctx context.Context, pipeline string, status models.RunStatus) (*models.Run, error)
	Close() error
}

// Recorder is the run-scoped view handed to pipeline steps
type Recorder interface {
	LogParams(ctx context.Context, params map[string]string) error
	LogMetric(ctx context.Context, key string, value float64) error
}

// RunContext binds a tracker to one run
type RunContext struct {
	tracker Tracker
	runID   string
}

// NewRunContext returns a Recorder that logs to runID
func NewRunContext(t Tracker, runID string) *RunContext {
	return &RunContext{tracker: t, runID: runID}
}

// RunID returns the bound run
func (r *RunContext) RunID() string { return r.runID }

// LogParams records params on the bound run
func (r *RunContext) LogParams(ctx context.Context, params map[string]string) error {
	return r.tracker.LogParams(ctx, r.runID, params)
}

// LogMetric records a metric on the bound run
func (r *RunContext) LogMetric(ctx context.Context, key string, value float64) error {
	return r.tracker.LogMetric(ctx, r.runID, key, value)
}

type discard struct{}

func (discard) LogParams(context.Context, map[string]string) error { return nil }
func (discard) LogMetric(context.Context, string, float64) error   { return nil }

// Discard is a Recorder that drops everything
var Discard Recorder = discard{}
