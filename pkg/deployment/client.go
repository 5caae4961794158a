package deployment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// PredictionClient calls a prediction service's /invocations endpoint
type PredictionClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewPredictionClient creates a client; timeout bounds each request
func NewPredictionClient(timeout time.Duration) *PredictionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PredictionClient{
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Predict posts req to url and decodes the predictions
func (c *PredictionClient) Predict(ctx context.Context, url string, req *models.InvocationRequest) (*models.InvocationResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("prediction service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out models.InvocationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode predictions: %w", err)
	}
	if len(out.Predictions) != len(req.Data) {
		return nil, fmt.Errorf("expected %d predictions, got %d", len(req.Data), len(out.Predictions))
	}
	return &out, nil
}
