package models

import "math"

// ServiceState is the observed state of a prediction service
type ServiceState string

const (
	ServiceStatePending ServiceState = "pending"
	ServiceStateRunning ServiceState = "running"
	ServiceStateFailed  ServiceState = "failed"
)

// PredictionService describes a deployed model server
type PredictionService struct {
	UUID          string            `json:"uuid"`
	Name          string            `json:"name"`
	Namespace     string            `json:"namespace"`
	PipelineName  string            `json:"pipeline_name"`
	StepName      string            `json:"pipeline_step_name"`
	ModelName     string            `json:"model_name"`
	RunID         string            `json:"run_id,omitempty"`
	PredictionURL string            `json:"prediction_url"`
	State         ServiceState      `json:"state"`
	LastError     string            `json:"last_error,omitempty"`
	Replicas      int32             `json:"replicas"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// IsRunning reports whether the service can accept predictions
func (s *PredictionService) IsRunning() bool {
	return s.State == ServiceStateRunning
}

// IsFailed reports whether the last rollout failed
func (s *PredictionService) IsFailed() bool {
	return s.State == ServiceStateFailed
}

// DeploymentDecision records the outcome of the accuracy gate
type DeploymentDecision struct {
	Deploy      bool    `json:"deploy"`
	Metric      float64 `json:"metric"`
	MinAccuracy float64 `json:"min_accuracy"`
}

// InvocationRequest is the body POSTed to a prediction service.
// A null cell means the value is missing.
type InvocationRequest struct {
	Columns []string     `json:"columns"`
	Data    [][]*float64 `json:"data"`
}

// InvocationResponse is the prediction service reply
type InvocationResponse struct {
	Predictions []float64 `json:"predictions"`
}

// NewInvocationRequest converts rows with NaN for missing values into a
// request with null cells
func NewInvocationRequest(columns []string, rows [][]float64) *InvocationRequest {
	data := make([][]*float64, len(rows))
	for i, row := range rows {
		cells := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				v := row[j]
				cells[j] = &v
			}
		}
		data[i] = cells
	}
	return &InvocationRequest{Columns: columns, Data: data}
}

// Rows converts the request back to floats, NaN for null cells
func (r *InvocationRequest) Rows() [][]float64 {
	rows := make([][]float64, len(r.Data))
	for i, cells := range r.Data {
		row := make([]float64, len(cells))
		for j, c := range cells {
			if c == nil {
				row[j] = math.NaN()
				continue
			}
			row[j] = *c
		}
		rows[i] = row
	}
	return rows
}
