package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/api"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/deployment"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/scheduler"
)

const (
	deployOnly       = "deploy"
	predictOnly      = "predict"
	deployAndPredict = "deploy_and_predict"
)

// deploymentMode is the --config flag of run-deployment
type deploymentMode string

func (m *deploymentMode) String() string { return string(*m) }

func (m *deploymentMode) Set(v string) error {
	switch v {
	case deployOnly, predictOnly, deployAndPredict:
		*m = deploymentMode(v)
		return nil
	}
	return fmt.Errorf("must be one of %s", strings.Join([]string{deployOnly, predictOnly, deployAndPredict}, ", "))
}

func (m *deploymentMode) Type() string { return "string" }

func (m deploymentMode) deploys() bool  { return m == deployOnly || m == deployAndPredict }
func (m deploymentMode) predicts() bool { return m == predictOnly || m == deployAndPredict }

var (
	mode        = deploymentMode(deployAndPredict)
	minAccuracy float64
	watchData   bool

	rootCmd = &cobra.Command{
		Use:          "satisfaction",
		Short:        "Customer satisfaction training, deployment and prediction",
		SilenceUsage: true,
	}

	runPipelineCmd = &cobra.Command{
		Use:   "run-pipeline",
		Short: "Run the training pipeline once",
		Args:  cobra.NoArgs,
		RunE:  runPipeline,
	}

	runDeploymentCmd = &cobra.Command{
		Use:   "run-deployment",
		Short: "Retrain and deploy the model, score a batch against the deployed service, or both",
		Args:  cobra.NoArgs,
		RunE:  runDeployment,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction UI and the /invocations endpoint",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Retrain and redeploy on a schedule whenever the data changes",
		Args:  cobra.NoArgs,
		RunE:  schedule,
	}
)

func init() {
	runDeploymentCmd.Flags().Var(&mode, "config",
		"what to run: deploy, predict or deploy_and_predict")
	runDeploymentCmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0,
		"minimum R² the model needs to be deployed (default: deployment.min_accuracy from config)")
	scheduleCmd.Flags().BoolVar(&watchData, "watch", false,
		"also check as soon as the data file changes, not only on schedule")

	rootCmd.AddCommand(runPipelineCmd, runDeploymentCmd, serveCmd, scheduleCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.trainingPipeline("").Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s finished: mse=%.4f rmse=%.4f r2_score=%.4f\n",
		res.RunID, res.Evaluation.MSE, res.Evaluation.RMSE, res.Evaluation.R2)
	fmt.Fprintf(out, "Model saved to %s\n", res.ArtifactPath)
	fmt.Fprintf(out, "Runs are tracked in %s (experiment %q). Start `satisfaction serve` and open /results to compare them.\n",
		a.cfg.TrackingDBPath, a.cfg.Experiment)
	return nil
}

func runDeployment(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	deployer, err := a.deployer()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if mode.deploys() {
		threshold := resolveMinAccuracy(cmd, a.cfg.Deployment.MinAccuracy)
		outcome, err := a.continuousDeployment(deployer).Run(ctx, threshold)
		if err != nil {
			return err
		}
		if !outcome.Decision.Deploy {
			fmt.Fprintf(out, "Model not deployed: r2_score %.4f is below the minimum accuracy %.4f\n",
				outcome.Decision.Metric, outcome.Decision.MinAccuracy)
		}
	}

	if mode.predicts() {
		inference := deployment.NewInferencePipeline(deployer, a.serviceSelector(), a.cfg.DataPath,
			deployment.DefaultBatchSize, deployment.NewPredictionClient(0), a.log)
		res, err := inference.Run(ctx)
		switch {
		case errors.Is(err, deployment.ErrNoService):
			fmt.Fprintln(out, "No prediction service is running. Run with --config deploy first.")
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintf(out, "Scored %d rows against %s\n", len(res.Predictions), res.Service.PredictionURL)
	}

	services, err := deployer.Find(ctx, a.serviceSelector())
	if err != nil {
		return err
	}
	printServiceStatus(out, services)
	return nil
}

// resolveMinAccuracy prefers an explicit --min-accuracy over the configured value
func resolveMinAccuracy(cmd *cobra.Command, configured float64) float64 {
	if cmd.Flags().Changed("min-accuracy") {
		return minAccuracy
	}
	return configured
}

// printServiceStatus reports where the prediction service can be reached,
// or why it is not running
func printServiceStatus(out io.Writer, services []*models.PredictionService) {
	if len(services) == 0 {
		fmt.Fprintln(out, "No prediction service is deployed.")
		return
	}
	svc := services[0]
	switch {
	case svc.IsRunning():
		fmt.Fprintf(out, "The prediction service is running and accepts requests at:\n    %s\n", svc.PredictionURL)
		fmt.Fprintf(out, "To stop it, delete deployment and service %q in namespace %q.\n", svc.Name, svc.Namespace)
	case svc.IsFailed():
		fmt.Fprintf(out, "The prediction service is in a failed state.\nLast state: %q\nLast error: %q\n", svc.State, svc.LastError)
	default:
		fmt.Fprintf(out, "The prediction service is not ready yet.\nLast state: %q\n", svc.State)
	}
}

func serve(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	server := api.NewServer(api.Options{
		Port:       a.cfg.Port,
		ModelPath:  a.cfg.ModelPath,
		Experiment: a.cfg.Experiment,
		Registry:   a.registry,
	}, a.tracker, a.log)
	return server.Start(ctx)
}

func schedule(_ *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	deployer, err := a.deployer()
	if err != nil {
		return err
	}

	svc, err := scheduler.NewService(scheduler.Options{
		Schedule:     a.cfg.RetrainSchedule,
		DataPath:     a.cfg.DataPath,
		PipelineName: a.cfg.Deployment.PipelineName,
		MinAccuracy:  a.cfg.Deployment.MinAccuracy,
	}, a.continuousDeployment(deployer), a.tracker, a.log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	if watchData {
		if err := svc.Watch(ctx); err != nil {
			svc.Stop()
			return err
		}
	}
	<-ctx.Done()
	a.log.Info("Shutting down scheduler", logger.String("reason", ctx.Err().Error()))
	svc.Stop()
	return nil
}
