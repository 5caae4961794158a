// Package deployment gates, rolls out and queries the model prediction
// service.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/k8s"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// ErrNoService is returned when no prediction service matches a selector
var ErrNoService = errors.New("no prediction service is running")

// Label and annotation keys put on model server objects
const (
	LabelManagedBy    = "app.kubernetes.io/managed-by"
	LabelName         = "app.kubernetes.io/name"
	LabelPipelineName = "satisfaction.mimir-aip.io/pipeline-name"
	LabelStepName     = "satisfaction.mimir-aip.io/pipeline-step-name"
	LabelModelName    = "satisfaction.mimir-aip.io/model-name"

	AnnotationRunID     = "satisfaction.mimir-aip.io/run-id"
	AnnotationLastError = "satisfaction.mimir-aip.io/last-error"
	AnnotationUUID      = "satisfaction.mimir-aip.io/uuid"

	managedByValue = "satisfaction-pipeline"
)

// ShouldDeploy is the deployment gate: the model's R² must reach
// minAccuracy. A NaN score never deploys.
func ShouldDeploy(result *models.EvaluationResult, minAccuracy float64) bool {
	if result == nil || math.IsNaN(result.R2) {
		return false
	}
	return result.R2 >= minAccuracy
}

// DeployRequest describes one model server rollout
type DeployRequest struct {
	Name         string
	PipelineName string
	StepName     string
	ModelName    string
	RunID        string
	ModelPath    string
	Image        string
	ModelPVC     string
	Workers      int32
	Port         int32
	Timeout      time.Duration
}

// ServiceSelector picks prediction services by their labels. Empty fields
// match anything.
type ServiceSelector struct {
	PipelineName string
	StepName     string
	ModelName    string
	RunningOnly  bool
}

// Deployer rolls out and finds prediction services
type Deployer interface {
	Deploy(ctx context.Context, req DeployRequest) (*models.PredictionService, error)
	Find(ctx context.Context, sel ServiceSelector) ([]*models.PredictionService, error)
	Delete(ctx context.Context, name string) error
}

// KubernetesDeployer runs the model server as a Deployment plus Service
type KubernetesDeployer struct {
	client       *k8s.Client
	log          logger.Logger
	pollInterval time.Duration
}

// NewKubernetesDeployer creates a deployer; a nil logger discards output
func NewKubernetesDeployer(client *k8s.Client, log logger.Logger) *KubernetesDeployer {
	if log == nil {
		log = logger.NewNop()
	}
	return &KubernetesDeployer{client: client, log: log, pollInterval: time.Second}
}

// SetPollInterval changes how often rollout status is checked
func (d *KubernetesDeployer) SetPollInterval(interval time.Duration) {
	d.pollInterval = interval
}

func (req DeployRequest) labels() map[string]string {
	return map[string]string{
		LabelManagedBy:    managedByValue,
		LabelName:         req.Name,
		LabelPipelineName: req.PipelineName,
		LabelStepName:     req.StepName,
		LabelModelName:    req.ModelName,
	}
}

func (req DeployRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("deployment name is required")
	}
	if req.Image == "" {
		return fmt.Errorf("model server image is required")
	}
	if req.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", req.Workers)
	}
	if req.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", req.Port)
	}
	return nil
}

func (d *KubernetesDeployer) buildDeployment(req DeployRequest, id string) *appsv1.Deployment {
	lbls := req.labels()
	selector := map[string]string{LabelName: req.Name, LabelManagedBy: managedByValue}

	env := []corev1.EnvVar{
		{Name: "APP_ENV", Value: "production"},
		{Name: "PORT", Value: strconv.Itoa(int(req.Port))},
		{Name: "MODEL_PATH", Value: req.ModelPath},
		{Name: "RUN_ID", Value: req.RunID},
	}

	container := corev1.Container{
		Name:            "model-server",
		Image:           req.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Args:            []string{"serve"},
		Env:             env,
		Ports: []corev1.ContainerPort{
			{Name: "http", ContainerPort: req.Port, Protocol: corev1.ProtocolTCP},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{Path: "/ready", Port: intstr.FromString("http")},
			},
			PeriodSeconds: 5,
		},
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{Path: "/health", Port: intstr.FromString("http")},
			},
			PeriodSeconds: 10,
		},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    k8s.ParseQuantity("250m"),
				corev1.ResourceMemory: k8s.ParseQuantity("256Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    k8s.ParseQuantity("1000m"),
				corev1.ResourceMemory: k8s.ParseQuantity("1Gi"),
			},
		},
	}

	var volumes []corev1.Volume
	if req.ModelPVC != "" {
		mountDir := "/app/artifacts"
		if i := strings.LastIndex(req.ModelPath, "/"); i > 0 {
			mountDir = req.ModelPath[:i]
		}
		container.VolumeMounts = []corev1.VolumeMount{{Name: "models", MountPath: mountDir, ReadOnly: true}}
		volumes = []corev1.Volume{{
			Name: "models",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: req.ModelPVC, ReadOnly: true},
			},
		}}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: d.client.Namespace(),
			Labels:    lbls,
			Annotations: map[string]string{
				AnnotationRunID: req.RunID,
				AnnotationUUID:  id,
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: k8s.Int32Ptr(req.Workers),
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      lbls,
					Annotations: map[string]string{AnnotationRunID: req.RunID},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}
}

func (d *KubernetesDeployer) buildService(req DeployRequest) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.Name,
			Namespace: d.client.Namespace(),
			Labels:    req.labels(),
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{LabelName: req.Name, LabelManagedBy: managedByValue},
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       req.Port,
				TargetPort: intstr.FromString("http"),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// Deploy creates or updates the model server. With a positive timeout it
// waits for all replicas to become available; when they do not, the
// service is returned in failed state with the reason as LastError.
func (d *KubernetesDeployer) Deploy(ctx context.Context, req DeployRequest) (*models.PredictionService, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if existing, err := d.client.GetDeployment(ctx, req.Name); err == nil {
		if prev := existing.Annotations[AnnotationUUID]; prev != "" {
			id = prev
		}
	}

	dep, err := d.client.ApplyDeployment(ctx, d.buildDeployment(req, id))
	if err != nil {
		return nil, err
	}
	if _, err := d.client.ApplyService(ctx, d.buildService(req)); err != nil {
		return nil, err
	}
	d.log.Info("Model server applied",
		logger.String("name", req.Name),
		logger.String("namespace", d.client.Namespace()),
		logger.Int("workers", int(req.Workers)),
		logger.String("run_id", req.RunID))

	if req.Timeout > 0 {
		dep, err = d.waitAvailable(ctx, req)
		if err != nil {
			d.log.Warn("Model server did not become available", logger.String("name", req.Name), logger.Error(err))
			if annErr := d.client.AnnotateDeployment(context.WithoutCancel(ctx), req.Name, map[string]string{AnnotationLastError: err.Error()}); annErr != nil {
				d.log.Warn("Failed to record rollout error", logger.Error(annErr))
			}
			svc := d.toService(dep)
			svc.State = models.ServiceStateFailed
			svc.LastError = err.Error()
			return svc, nil
		}
	}

	return d.toService(dep), nil
}

// waitAvailable polls until the deployment has rolled out the current spec
// to all replicas or the timeout expires. It always returns the last observed deployment.
func (d *KubernetesDeployer) waitAvailable(ctx context.Context, req DeployRequest) (*appsv1.Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var last *appsv1.Deployment
	for {
		dep, err := d.client.GetDeployment(ctx, req.Name)
		if err == nil {
			last = dep
			if rolledOut(dep, req.Workers) {
				return dep, nil
			}
		}

		select {
		case <-ctx.Done():
			var available, updated int32
			if last != nil {
				available = last.Status.AvailableReplicas
				updated = last.Status.UpdatedReplicas
			}
			if last == nil {
				last = d.buildDeployment(req, "")
			}
			return last, fmt.Errorf("timed out after %s waiting for %s: %d/%d replicas available, %d updated",
				req.Timeout, req.Name, available, req.Workers, updated)
		case <-ticker.C:
		}
	}
}

// Find lists model servers matching sel
func (d *KubernetesDeployer) Find(ctx context.Context, sel ServiceSelector) ([]*models.PredictionService, error) {
	set := labels.Set{LabelManagedBy: managedByValue}
	if sel.PipelineName != "" {
		set[LabelPipelineName] = sel.PipelineName
	}
	if sel.StepName != "" {
		set[LabelStepName] = sel.StepName
	}
	if sel.ModelName != "" {
		set[LabelModelName] = sel.ModelName
	}

	deps, err := d.client.ListDeployments(ctx, set.AsSelector().String())
	if err != nil {
		return nil, err
	}

	var out []*models.PredictionService
	for i := range deps {
		svc := d.toService(&deps[i])
		if sel.RunningOnly && !svc.IsRunning() {
			continue
		}
		out = append(out, svc)
	}
	return out, nil
}

// Delete removes the model server
func (d *KubernetesDeployer) Delete(ctx context.Context, name string) error {
	if err := d.client.DeleteModelServer(ctx, name); err != nil {
		return err
	}
	d.log.Info("Model server deleted", logger.String("name", name))
	return nil
}

func (d *KubernetesDeployer) toService(dep *appsv1.Deployment) *models.PredictionService {
	var replicas int32 = 1
	if dep.Spec.Replicas != nil {
		replicas = *dep.Spec.Replicas
	}
	var port int32 = 8080
	if cs := dep.Spec.Template.Spec.Containers; len(cs) > 0 && len(cs[0].Ports) > 0 {
		port = cs[0].Ports[0].ContainerPort
	}

	svc := &models.PredictionService{
		UUID:          dep.Annotations[AnnotationUUID],
		Name:          dep.Name,
		Namespace:     dep.Namespace,
		PipelineName:  dep.Labels[LabelPipelineName],
		StepName:      dep.Labels[LabelStepName],
		ModelName:     dep.Labels[LabelModelName],
		RunID:         dep.Annotations[AnnotationRunID],
		PredictionURL: fmt.Sprintf("http://%s.%s.svc.cluster.local:%d/invocations", dep.Name, dep.Namespace, port),
		Replicas:      replicas,
		Labels:        dep.Labels,
		LastError:     dep.Annotations[AnnotationLastError],
	}

	switch {
	case replicas > 0 && rolledOut(dep, replicas):
		svc.State = models.ServiceStateRunning
		svc.LastError = ""
	case svc.LastError != "" || progressDeadlineExceeded(dep):
		svc.State = models.ServiceStateFailed
		if svc.LastError == "" {
			svc.LastError = "progress deadline exceeded"
		}
	default:
		svc.State = models.ServiceStatePending
	}
	return svc
}

// rolledOut reports whether the controller has observed the latest spec
// and has want replicas both updated and available
func rolledOut(dep *appsv1.Deployment, want int32) bool {
	return dep.Status.ObservedGeneration >= dep.Generation &&
		dep.Status.UpdatedReplicas >= want &&
		dep.Status.AvailableReplicas >= want
}

func progressDeadlineExceeded(dep *appsv1.Deployment) bool {
	for _, c := range dep.Status.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Status == corev1.ConditionFalse {
			return true
		}
	}
	return false
}
