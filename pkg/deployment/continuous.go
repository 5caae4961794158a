package deployment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/pipeline"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

// PipelineRunner runs a training pipeline once
type PipelineRunner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Outcome reports what a continuous deployment run did
type Outcome struct {
	Result   *pipeline.Result
	Decision models.DeploymentDecision
	Service  *models.PredictionService // nil when the gate rejected the model
}

// ContinuousDeployment retrains and, when the new model passes the accuracy
// gate, rolls it out
type ContinuousDeployment struct {
	runner   PipelineRunner
	tracker  tracking.Tracker
	deployer Deployer
	template DeployRequest
	log      logger.Logger
}

// NewContinuousDeployment wires the pieces. template supplies everything
// but the run ID and model path, which come from each training result.
func NewContinuousDeployment(runner PipelineRunner, tracker tracking.Tracker, deployer Deployer, template DeployRequest, log logger.Logger) *ContinuousDeployment {
	if log == nil {
		log = logger.NewNop()
	}
	return &ContinuousDeployment{
		runner:   runner,
		tracker:  tracker,
		deployer: deployer,
		template: template,
		log:      log,
	}
}

// Run trains once and deploys iff ShouldDeploy(result, minAccuracy)
func (c *ContinuousDeployment) Run(ctx context.Context, minAccuracy float64) (*Outcome, error) {
	result, err := c.runner.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	ctx = logger.ContextWithRunID(ctx, result.RunID)
	log := c.log.WithContext(ctx)

	decision := models.DeploymentDecision{
		Deploy:      ShouldDeploy(result.Evaluation, minAccuracy),
		MinAccuracy: minAccuracy,
	}
	if result.Evaluation != nil {
		decision.Metric = result.Evaluation.R2
	}

	if c.tracker != nil {
		err := c.tracker.LogParams(ctx, result.RunID, map[string]string{
			"deploy_decision": strconv.FormatBool(decision.Deploy),
			"min_accuracy":    strconv.FormatFloat(minAccuracy, 'g', -1, 64),
		})
		if err != nil {
			log.Warn("Failed to record deployment decision", logger.Error(err))
		}
	}

	outcome := &Outcome{Result: result, Decision: decision}
	if !decision.Deploy {
		log.Info("Model below accuracy threshold, not deploying",
			logger.Float64("r2_score", decision.Metric),
			logger.Float64("min_accuracy", minAccuracy))
		c.recordStatus(ctx, result.RunID, models.DeployStatusRejected)
		return outcome, nil
	}

	req := c.template
	req.RunID = result.RunID
	if result.ArtifactPath != "" {
		req.ModelPath = result.ArtifactPath
	}

	svc, err := c.deployer.Deploy(ctx, req)
	if err != nil {
		log.Error("Error in model_deployer_step", logger.Error(err))
		c.recordStatus(ctx, result.RunID, models.DeployStatusFailed)
		return nil, fmt.Errorf("deploy failed: %w", err)
	}
	outcome.Service = svc

	if svc.IsFailed() {
		log.Warn("Model server rollout failed",
			logger.String("service", svc.Name),
			logger.String("error", svc.LastError))
		c.recordStatus(ctx, result.RunID, models.DeployStatusFailed)
		return outcome, nil
	}
	c.recordStatus(ctx, result.RunID, models.DeployStatusDeployed)

	log.Info("Model deployed",
		logger.String("service", svc.Name),
		logger.String("state", string(svc.State)),
		logger.String("prediction_url", svc.PredictionURL))
	return outcome, nil
}

// recordStatus logs the rollout result on the training run. It runs even
// when ctx was cancelled mid-deploy.
func (c *ContinuousDeployment) recordStatus(ctx context.Context, runID, status string) {
	if c.tracker == nil {
		return
	}
	err := c.tracker.LogParams(context.WithoutCancel(ctx), runID, map[string]string{models.ParamDeployStatus: status})
	if err != nil {
		c.log.WithContext(ctx).Warn("Failed to record deploy status", logger.String("status", status), logger.Error(err))
	}
}
