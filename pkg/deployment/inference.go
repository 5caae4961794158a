package deployment

import (
	"context"
	"fmt"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/dataprep"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/ingest"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// DefaultBatchSize is the number of rows the inference pipeline scores
const DefaultBatchSize = 100

// InferenceResult holds the predictions of one inference run
type InferenceResult struct {
	Service     *models.PredictionService
	Columns     []string
	Predictions []float64
}

// InferencePipeline scores a batch of rows against the running service
type InferencePipeline struct {
	deployer  Deployer
	selector  ServiceSelector
	dataPath  string
	batchSize int
	client    *PredictionClient
	loader    *ingest.Loader
	log       logger.Logger
}

// NewInferencePipeline creates an inference pipeline. batchSize <= 0 uses
// DefaultBatchSize.
func NewInferencePipeline(deployer Deployer, selector ServiceSelector, dataPath string, batchSize int, client *PredictionClient, log logger.Logger) *InferencePipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if client == nil {
		client = NewPredictionClient(0)
	}
	if log == nil {
		log = logger.NewNop()
	}
	selector.RunningOnly = true
	return &InferencePipeline{
		deployer:  deployer,
		selector:  selector,
		dataPath:  dataPath,
		batchSize: batchSize,
		client:    client,
		loader:    ingest.NewLoader(log),
		log:       log,
	}
}

// Run finds the running service, loads up to batchSize rows of serving
// features and returns the service's predictions
func (p *InferencePipeline) Run(ctx context.Context) (*InferenceResult, error) {
	services, err := p.deployer.Find(ctx, p.selector)
	if err != nil {
		return nil, fmt.Errorf("failed to look up prediction service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: pipeline %s, step %s, model %s",
			ErrNoService, p.selector.PipelineName, p.selector.StepName, p.selector.ModelName)
	}
	svc := services[0]

	frame, err := p.loader.LoadCSV(p.dataPath)
	if err != nil {
		return nil, err
	}
	rows, err := dataprep.ExtractFeatures(frame, dataprep.FeatureColumns, p.batchSize)
	if err != nil {
		return nil, err
	}

	req := models.NewInvocationRequest(dataprep.FeatureColumns, rows)
	resp, err := p.client.Predict(ctx, svc.PredictionURL, req)
	if err != nil {
		p.log.Error("Inference failed", logger.String("service", svc.Name), logger.Error(err))
		return nil, err
	}

	p.log.Info("Inference finished",
		logger.String("service", svc.Name),
		logger.Int("rows", len(resp.Predictions)))
	return &InferenceResult{
		Service:     svc,
		Columns:     dataprep.FeatureColumns,
		Predictions: resp.Predictions,
	}, nil
}
