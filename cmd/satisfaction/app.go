package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/config"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/deployment"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/k8s"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/pipeline"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

// app holds what every command needs: configuration, the logger and the
// run tracker
type app struct {
	cfg      *config.Config
	log      logger.Logger
	tracker  *tracking.SQLiteTracker
	registry *prometheus.Registry
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewZapLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	tracker, err := tracking.NewSQLiteTracker(cfg.TrackingDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run tracker: %w", err)
	}

	log.Info("Configuration loaded",
		logger.String("env", cfg.Environment),
		logger.String("model_name", string(cfg.Training.ModelName)),
		logger.String("tracking_db", cfg.TrackingDBPath))

	return &app{cfg: cfg, log: log, tracker: tracker, registry: prometheus.NewRegistry()}, nil
}

func (a *app) Close() {
	if err := a.tracker.Close(); err != nil {
		a.log.Warn("Failed to close run tracker", logger.Error(err))
	}
	_ = a.log.Sync()
}

// trainingPipeline builds the training pipeline. name overrides the
// pipeline name recorded on runs.
func (a *app) trainingPipeline(name string) *pipeline.TrainingPipeline {
	return pipeline.NewTrainingPipeline(pipeline.Options{
		Name:       name,
		Experiment: a.cfg.Experiment,
		DataPath:   a.cfg.DataPath,
		ModelPath:  a.cfg.ModelPath,
		Training:   a.cfg.Training,
	}, a.tracker, a.log, pipeline.NewMetrics(a.registry))
}

func (a *app) deployer() (*deployment.KubernetesDeployer, error) {
	client, err := k8s.NewClient(a.cfg.Deployment.Namespace, a.cfg.Deployment.Kubeconfig)
	if err != nil {
		return nil, err
	}
	return deployment.NewKubernetesDeployer(client, a.log), nil
}

func (a *app) deployRequest() deployment.DeployRequest {
	d := a.cfg.Deployment
	return deployment.DeployRequest{
		Name:         d.ServiceName,
		PipelineName: d.PipelineName,
		StepName:     d.StepName,
		ModelName:    d.ModelName,
		ModelPath:    a.cfg.ModelPath,
		Image:        d.Image,
		ModelPVC:     d.ModelPVC,
		Workers:      int32(d.Workers),
		Port:         int32(d.ServicePort),
		Timeout:      time.Duration(d.TimeoutSeconds) * time.Second,
	}
}

func (a *app) serviceSelector() deployment.ServiceSelector {
	d := a.cfg.Deployment
	return deployment.ServiceSelector{
		PipelineName: d.PipelineName,
		StepName:     d.StepName,
		ModelName:    d.ModelName,
	}
}

func (a *app) continuousDeployment(deployer deployment.Deployer) *deployment.ContinuousDeployment {
	return deployment.NewContinuousDeployment(
		a.trainingPipeline(a.cfg.Deployment.PipelineName),
		a.tracker,
		deployer,
		a.deployRequest(),
		a.log,
	)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
