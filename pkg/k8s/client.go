package k8s

import (
	"context"
	"fmt"
	"path/filepath"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client provides the Kubernetes API operations the model server rollout needs
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// NewClient creates a client from in-cluster config, falling back to
// kubeconfig (or ~/.kube/config when kubeconfig is empty)
func NewClient(namespace, kubeconfig string) (*Client, error) {
	config, err := getKubeConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return NewClientWithInterface(clientset, namespace), nil
}

// NewClientWithInterface wraps an existing clientset (a fake one in tests)
func NewClientWithInterface(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{clientset: clientset, namespace: namespace}
}

// Namespace returns the namespace the client operates in
func (c *Client) Namespace() string {
	return c.namespace
}

// getKubeConfig returns the Kubernetes configuration
func getKubeConfig(kubeconfig string) (*rest.Config, error) {
	// Try in-cluster config first
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}

	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// ApplyDeployment creates the deployment or replaces the spec of an existing one
func (c *Client) ApplyDeployment(ctx context.Context, d *appsv1.Deployment) (*appsv1.Deployment, error) {
	api := c.clientset.AppsV1().Deployments(c.namespace)

	existing, err := api.Get(ctx, d.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := api.Create(ctx, d, metav1.CreateOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create deployment: %w", err)
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	existing.Labels = d.Labels
	existing.Annotations = d.Annotations
	existing.Spec = d.Spec
	updated, err := api.Update(ctx, existing, metav1.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to update deployment: %w", err)
	}
	return updated, nil
}

// ApplyService creates the service or updates ports, selector and labels
func (c *Client) ApplyService(ctx context.Context, s *corev1.Service) (*corev1.Service, error) {
	api := c.clientset.CoreV1().Services(c.namespace)

	existing, err := api.Get(ctx, s.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		created, err := api.Create(ctx, s, metav1.CreateOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	existing.Labels = s.Labels
	existing.Spec.Selector = s.Spec.Selector
	existing.Spec.Ports = s.Spec.Ports
	updated, err := api.Update(ctx, existing, metav1.UpdateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to update service: %w", err)
	}
	return updated, nil
}

// GetDeployment fetches a deployment by name
func (c *Client) GetDeployment(ctx context.Context, name string) (*appsv1.Deployment, error) {
	d, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// AnnotateDeployment merges annotations into an existing deployment
func (c *Client) AnnotateDeployment(ctx context.Context, name string, annotations map[string]string) error {
	api := c.clientset.AppsV1().Deployments(c.namespace)
	d, err := api.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}
	if d.Annotations == nil {
		d.Annotations = map[string]string{}
	}
	for k, v := range annotations {
		d.Annotations[k] = v
	}
	if _, err := api.Update(ctx, d, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to annotate deployment: %w", err)
	}
	return nil
}

// ListDeployments lists deployments matching a label selector
func (c *Client) ListDeployments(ctx context.Context, selector string) ([]appsv1.Deployment, error) {
	list, err := c.clientset.AppsV1().Deployments(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return list.Items, nil
}

// DeleteModelServer deletes the deployment and service named name.
// Objects that are already gone are not an error.
func (c *Client) DeleteModelServer(ctx context.Context, name string) error {
	propagationPolicy := metav1.DeletePropagationBackground
	err := c.clientset.AppsV1().Deployments(c.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagationPolicy,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	err = c.clientset.CoreV1().Services(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

// Int32Ptr returns a pointer to i
func Int32Ptr(i int32) *int32 {
	return &i
}

// ParseQuantity parses s, returning zero when s is not a valid quantity
func ParseQuantity(s string) resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		// Return a default value if parsing fails
		return resource.MustParse("0")
	}
	return q
}
