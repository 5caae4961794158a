package models

import "time"

// RunStatus is the lifecycle state of a tracked run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
)

// ParamDeployStatus is the run param recording how the rollout ended
const ParamDeployStatus = "deploy_status"

// DeployStatus values. Deployed and rejected are final for a dataset;
// failed asks the next check to try again.
const (
	DeployStatusDeployed = "deployed"
	DeployStatusRejected = "rejected"
	DeployStatusFailed   = "failed"
)

// Run is one tracked pipeline execution with its params and metrics
type Run struct {
	ID           string             `json:"id"`
	Experiment   string             `json:"experiment"`
	PipelineName string             `json:"pipeline_name"`
	Status       RunStatus          `json:"status"`
	Params       map[string]string  `json:"params,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"` // latest value per key
	ArtifactPath string             `json:"artifact_path,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

// Metric returns the latest value of a metric and whether it was logged
func (r *Run) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}
