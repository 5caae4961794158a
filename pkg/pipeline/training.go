// Package pipeline drives the training run: ingest, clean and split, train,
// evaluate, then persist the model artifact.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/dataprep"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/evaluation"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/ingest"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/mlmodel/training"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

// DefaultName is the pipeline name runs are recorded under
const DefaultName = "train_pipeline"

// Step names, in execution order
const (
	StepIngest   = "ingest_data"
	StepClean    = "clean_data"
	StepTrain    = "train_model"
	StepEvaluate = "evaluation"
	StepSave     = "save_model"
)

// Options configures a TrainingPipeline
type Options struct {
	Name       string
	Experiment string
	DataPath   string
	ModelPath  string
	Training   models.TrainingConfig
}

// Result is what a successful run produces
type Result struct {
	RunID           string
	PipelineName    string
	DataFingerprint string
	TrainRows       int
	TestRows        int
	Model           *training.Model
	Evaluation      *models.EvaluationResult
	ArtifactPath    string
}

// TrainingPipeline runs the steps once, in order, aborting on the first error
type TrainingPipeline struct {
	opts    Options
	tracker tracking.Tracker
	log     logger.Logger
	metrics *Metrics

	loader    *ingest.Loader
	prep      *dataprep.Preprocessor
	trainer   *training.Trainer
	evaluator *evaluation.Evaluator
}

// NewTrainingPipeline wires the steps. metrics may be nil.
func NewTrainingPipeline(opts Options, tracker tracking.Tracker, log logger.Logger, metrics *Metrics) *TrainingPipeline {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Experiment == "" {
		opts.Experiment = tracking.DefaultExperiment
	}
	if log == nil {
		log = logger.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TrainingPipeline{
		opts:      opts,
		tracker:   tracker,
		log:       log,
		metrics:   metrics,
		loader:    ingest.NewLoader(log),
		prep:      dataprep.NewPreprocessor(log),
		trainer:   training.NewTrainer(log),
		evaluator: evaluation.NewEvaluator(log),
	}
}

// Name returns the pipeline name
func (p *TrainingPipeline) Name() string {
	return p.opts.Name
}

// Tracker returns the tracker runs are recorded in
func (p *TrainingPipeline) Tracker() tracking.Tracker {
	return p.tracker
}

// runState carries step outputs forward
type runState struct {
	rec   tracking.Recorder
	frame *models.Frame
	split *models.Split
	res   *Result
}

type step struct {
	name string
	fn   func(ctx context.Context, st *runState) error
}

func (p *TrainingPipeline) steps() []step {
	return []step{
		{StepIngest, p.ingest},
		{StepClean, p.clean},
		{StepTrain, p.train},
		{StepEvaluate, p.evaluate},
		{StepSave, p.save},
	}
}

// Run executes the pipeline once under a new tracked run
func (p *TrainingPipeline) Run(ctx context.Context) (*Result, error) {
	if err := p.opts.Training.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}

	run, err := p.tracker.StartRun(ctx, p.opts.Experiment, p.opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	ctx = logger.ContextWithRunID(ctx, run.ID)
	log := p.log.WithContext(ctx)
	log.Info("Pipeline started", logger.String("pipeline", p.opts.Name), logger.String("experiment", p.opts.Experiment))

	st := &runState{
		rec: tracking.NewRunContext(p.tracker, run.ID),
		res: &Result{RunID: run.ID, PipelineName: p.opts.Name},
	}

	for _, s := range p.steps() {
		if err := ctx.Err(); err != nil {
			p.fail(run.ID, log, s.name, err)
			return nil, fmt.Errorf("step %s: %w", s.name, err)
		}

		start := time.Now()
		err := s.fn(ctx, st)
		p.metrics.stepDuration.WithLabelValues(p.opts.Name, s.name).Observe(time.Since(start).Seconds())
		if err != nil {
			p.fail(run.ID, log, s.name, err)
			return nil, fmt.Errorf("step %s: %w", s.name, err)
		}
		log.Debug("Step finished", logger.String("step", s.name), logger.Duration("duration", time.Since(start)))
	}

	// The run outcome is recorded even if the caller's context is done
	if err := p.tracker.EndRun(context.WithoutCancel(ctx), run.ID, models.RunStatusFinished, st.res.ArtifactPath); err != nil {
		log.Warn("Failed to finish run", logger.Error(err))
	}
	p.metrics.runs.WithLabelValues(p.opts.Name, string(models.RunStatusFinished)).Inc()

	log.Info("Pipeline finished",
		logger.Float64("r2_score", st.res.Evaluation.R2),
		logger.Float64("rmse", st.res.Evaluation.RMSE),
		logger.String("artifact", st.res.ArtifactPath))
	return st.res, nil
}

func (p *TrainingPipeline) fail(runID string, log logger.Logger, stepName string, err error) {
	log.Error("Pipeline step failed", logger.String("step", stepName), logger.Error(err))
	if endErr := p.tracker.EndRun(context.Background(), runID, models.RunStatusFailed, ""); endErr != nil {
		log.Warn("Failed to mark run as failed", logger.Error(endErr))
	}
	p.metrics.runs.WithLabelValues(p.opts.Name, string(models.RunStatusFailed)).Inc()
}

func (p *TrainingPipeline) ingest(ctx context.Context, st *runState) error {
	fingerprint, err := ingest.Fingerprint(p.opts.DataPath)
	if err != nil {
		return err
	}
	frame, err := p.loader.LoadCSV(p.opts.DataPath)
	if err != nil {
		return err
	}
	st.frame = frame
	st.res.DataFingerprint = fingerprint
	return st.rec.LogParams(ctx, map[string]string{
		"data_path":        p.opts.DataPath,
		"data_fingerprint": fingerprint,
		"data_rows":        strconv.Itoa(frame.NumRows()),
	})
}

func (p *TrainingPipeline) clean(ctx context.Context, st *runState) error {
	split, err := p.prep.CleanAndSplit(st.frame, p.opts.Training)
	if err != nil {
		return err
	}
	st.split = split
	st.frame = nil
	st.res.TrainRows = len(split.XTrain)
	st.res.TestRows = len(split.XTest)
	return st.rec.LogParams(ctx, map[string]string{
		"test_size":   strconv.FormatFloat(p.opts.Training.TestSize, 'g', -1, 64),
		"random_seed": strconv.FormatInt(p.opts.Training.RandomSeed, 10),
		"train_rows":  strconv.Itoa(st.res.TrainRows),
		"test_rows":   strconv.Itoa(st.res.TestRows),
		"features":    strconv.Itoa(len(split.FeatureNames)),
	})
}

func (p *TrainingPipeline) train(ctx context.Context, st *runState) error {
	model, err := p.trainer.Train(ctx, st.split, p.opts.Training, st.rec)
	if err != nil {
		return err
	}
	model.RunID = st.res.RunID
	st.res.Model = model
	return nil
}

func (p *TrainingPipeline) evaluate(ctx context.Context, st *runState) error {
	result, err := p.evaluator.Evaluate(ctx, st.res.Model, st.split.XTest, st.split.YTest, st.rec)
	if err != nil {
		return err
	}
	st.res.Evaluation = result
	return nil
}

func (p *TrainingPipeline) save(_ context.Context, st *runState) error {
	if p.opts.ModelPath == "" {
		return nil
	}
	if err := training.SaveModel(p.opts.ModelPath, st.res.Model); err != nil {
		return err
	}
	st.res.ArtifactPath = p.opts.ModelPath
	return nil
}
