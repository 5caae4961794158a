package training

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/dataprep"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// Model is a fitted regressor together with what is needed to serve it:
// the feature order it was trained on and per-feature fallback values.
type Model struct {
	ModelType    models.ModelType   `json:"model_type"`
	FeatureNames []string           `json:"feature_names"`
	Defaults     []float64          `json:"defaults"` // training-set medians
	Params       map[string]float64 `json:"params"`
	RunID        string             `json:"run_id,omitempty"`
	TrainedAt    time.Time          `json:"trained_at"`
	State        json.RawMessage    `json:"state"`

	regressor Regressor
}

// NewModel wraps a fitted regressor. xTrain supplies the default values.
func NewModel(reg Regressor, featureNames []string, xTrain [][]float64) *Model {
	defaults := make([]float64, len(featureNames))
	column := make([]float64, len(xTrain))
	for j := range defaults {
		for i, row := range xTrain {
			column[i] = row[j]
		}
		defaults[j] = dataprep.Median(column)
	}

	return &Model{
		ModelType:    reg.Type(),
		FeatureNames: append([]string(nil), featureNames...),
		Defaults:     defaults,
		Params:       reg.Params(),
		TrainedAt:    time.Now().UTC(),
		regressor:    reg,
	}
}

// Predict scores rows laid out in FeatureNames order. NaN cells are
// replaced with the training default for that feature.
func (m *Model) Predict(x [][]float64) ([]float64, error) {
	if m.regressor == nil {
		return nil, ErrNotFitted
	}
	width := len(m.FeatureNames)
	filled := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		out := make([]float64, width)
		for j, v := range row {
			if math.IsNaN(v) {
				v = m.Defaults[j]
			}
			out[j] = v
		}
		filled[i] = out
	}
	return m.regressor.Predict(filled)
}

// PredictColumns scores rows whose values are laid out per columns.
// Columns the model does not know are ignored and features the caller
// does not send take their training default.
func (m *Model) PredictColumns(columns []string, rows [][]float64) ([]float64, error) {
	position := make(map[string]int, len(m.FeatureNames))
	for j, name := range m.FeatureNames {
		position[name] = j
	}

	x := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(columns))
		}
		full := make([]float64, len(m.FeatureNames))
		copy(full, m.Defaults)
		for c, name := range columns {
			if j, ok := position[name]; ok && !math.IsNaN(row[c]) {
				full[j] = row[c]
			}
		}
		x[i] = full
	}
	return m.Predict(x)
}

// PredictRecord scores a single named-feature record
func (m *Model) PredictRecord(record map[string]float64) (float64, error) {
	columns := make([]string, 0, len(record))
	row := make([]float64, 0, len(record))
	for k, v := range record {
		columns = append(columns, k)
		row = append(row, v)
	}
	pred, err := m.PredictColumns(columns, [][]float64{row})
	if err != nil {
		return 0, err
	}
	return pred[0], nil
}

// SaveModel writes m as JSON to path, creating parent directories. The
// file is written to a temporary name first and renamed into place.
func SaveModel(path string, m *Model) error {
	if m == nil || m.regressor == nil {
		return ErrNotFitted
	}
	state, err := json.Marshal(m.regressor)
	if err != nil {
		return fmt.Errorf("failed to encode model state: %w", err)
	}
	m.State = state

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return nil
}

// LoadModel reads a model written by SaveModel
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", path, err)
	}

	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}

	reg, err := NewRegressor(m.ModelType, m.Params)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(m.State, reg); err != nil {
		return nil, fmt.Errorf("failed to decode model state: %w", err)
	}
	if len(m.Defaults) != len(m.FeatureNames) {
		return nil, fmt.Errorf("model %s has %d defaults for %d features", path, len(m.Defaults), len(m.FeatureNames))
	}
	m.regressor = reg
	return &m, nil
}
