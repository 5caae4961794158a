// Package scheduler retrains and redeploys on a cron schedule when the
// source data has changed since the last successful run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/deployment"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/ingest"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

// ContinuousRunner is satisfied by deployment.ContinuousDeployment
type ContinuousRunner interface {
	Run(ctx context.Context, minAccuracy float64) (*deployment.Outcome, error)
}

// Options configures the scheduler
type Options struct {
	Schedule     string // standard cron spec or descriptor such as @daily
	DataPath     string
	PipelineName string // runs of this pipeline carry the last fingerprint
	MinAccuracy  float64
	// Debounce is how long Watch waits for writes to settle. Zero uses
	// DefaultDebounce.
	Debounce time.Duration
}

// TriggerResult describes one scheduled check
type TriggerResult struct {
	Ran         bool
	Reason      string
	Fingerprint string
	Outcome     *deployment.Outcome
}

// Service provides scheduled retraining
type Service struct {
	opts    Options
	runner  ContinuousRunner
	tracker tracking.Tracker
	log     logger.Logger

	cron    *cron.Cron
	entry   cron.EntryID
	running sync.Mutex
}

// NewService validates the schedule and creates a stopped scheduler
func NewService(opts Options, runner ContinuousRunner, tracker tracking.Tracker, log logger.Logger) (*Service, error) {
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		opts:    opts,
		runner:  runner,
		tracker: tracker,
		log:     log,
		cron:    cron.New(),
	}, nil
}

// Start registers the check and starts the cron loop. Each tick runs with
// ctx, so cancelling ctx aborts an in-flight retrain.
func (s *Service) Start(ctx context.Context) error {
	entry, err := s.cron.AddFunc(s.opts.Schedule, func() {
		s.runCheck(ctx, "cron")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retrain: %w", err)
	}
	s.entry = entry
	s.cron.Start()

	s.log.Info("Retrain scheduler started",
		logger.String("schedule", s.opts.Schedule),
		logger.Any("next_run", s.NextRun()))
	return nil
}

// runCheck triggers a check and logs the outcome
func (s *Service) runCheck(ctx context.Context, source string) {
	res, err := s.Trigger(ctx)
	if err != nil {
		s.log.Error("Scheduled retrain failed", logger.String("source", source), logger.Error(err))
		return
	}
	if !res.Ran {
		s.log.Info("Scheduled retrain skipped", logger.String("source", source), logger.String("reason", res.Reason))
	}
}

// Stop stops the cron loop and waits for a running check to finish
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Retrain scheduler stopped")
}

// NextRun returns the next scheduled tick, zero if not started
func (s *Service) NextRun() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Trigger runs one check now: when the data fingerprint differs from the
// one recorded on the last finished run, or that run's rollout did not
// settle, retrain and maybe redeploy.
// Overlapping triggers are skipped, not queued.
func (s *Service) Trigger(ctx context.Context) (*TriggerResult, error) {
	if !s.running.TryLock() {
		return &TriggerResult{Reason: "a retrain is already running"}, nil
	}
	defer s.running.Unlock()

	fingerprint, err := ingest.Fingerprint(s.opts.DataPath)
	if err != nil {
		return nil, err
	}
	res := &TriggerResult{Fingerprint: fingerprint}

	last, err := s.tracker.LatestRun(ctx, s.opts.PipelineName, models.RunStatusFinished)
	switch {
	case errors.Is(err, tracking.ErrRunNotFound):
		// first run
	case err != nil:
		return nil, fmt.Errorf("failed to look up last run: %w", err)
	case last.Params["data_fingerprint"] == fingerprint && settled(last):
		res.Reason = "data unchanged since run " + last.ID
		return res, nil
	}

	s.log.Info("Data changed, retraining", logger.String("fingerprint", fingerprint))
	outcome, err := s.runner.Run(ctx, s.opts.MinAccuracy)
	if err != nil {
		return nil, err
	}
	res.Ran = true
	res.Outcome = outcome
	return res, nil
}

// settled reports whether the run's model was deployed or rejected by the
// accuracy gate. Failed or missing rollouts are retried.
func settled(run *models.Run) bool {
	switch run.Params[models.ParamDeployStatus] {
	case models.DeployStatusDeployed, models.DeployStatusRejected:
		return true
	}
	return false
}
