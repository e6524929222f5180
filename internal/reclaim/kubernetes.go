package reclaim

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"cifleet/internal/store"
)

// KubernetesConfig holds configuration for the pod backend.
type KubernetesConfig struct {
	// Namespace the agent pods run in.
	Namespace string
	// Kubeconfig is used when not running in-cluster. Defaults to ~/.kube/config.
	Kubeconfig string
	// Prefix marks the pods this service owns, e.g. "k8s-".
	Prefix string
}

// Pod is the subset of pod state the sweeper needs.
type Pod struct {
	Name    string
	IP      string
	Phase   corev1.PodPhase
	Created time.Time
}

// NodeName is the node record name of the pod.
func (p Pod) NodeName() string {
	return NodeName(p.Name, p.IP)
}

// KubernetesTeardown deletes the agent pods behind k8s nodes.
type KubernetesTeardown struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// homeDir returns the user's home directory.
func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesTeardown tries in-cluster configuration first and falls back
// to a kubeconfig file.
func NewKubernetesTeardown(cfg KubernetesConfig) (*KubernetesTeardown, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := cfg.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = filepath.Join(homeDir(), ".kube", "config")
		}
		slog.Info("in-cluster config not available, using kubeconfig", "path", kubeconfig, "reason", err)
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return NewKubernetesTeardownWithClient(clientset, cfg), nil
}

// NewKubernetesTeardownWithClient wraps an existing clientset.
func NewKubernetesTeardownWithClient(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesTeardown {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "k8s-"
	}
	return &KubernetesTeardown{clientset: clientset, config: cfg}
}

// Teardown deletes the node's pod. A pod that is already gone counts as
// torn down.
func (k *KubernetesTeardown) Teardown(ctx context.Context, node store.Node) error {
	pod, _ := SplitNodeName(node.Name)
	return k.DeletePod(ctx, pod)
}

// DeletePod deletes one pod by name.
func (k *KubernetesTeardown) DeletePod(ctx context.Context, name string) error {
	err := k.clientset.CoreV1().Pods(k.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	slog.InfoContext(ctx, "deleted pod", "pod", name, "namespace", k.config.Namespace)
	return nil
}

// ListPods returns the running pods carrying the configured prefix.
func (k *KubernetesTeardown) ListPods(ctx context.Context) ([]Pod, error) {
	list, err := k.clientset.CoreV1().Pods(k.config.Namespace).List(ctx, metav1.ListOptions{
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	var pods []Pod
	for _, p := range list.Items {
		if !strings.HasPrefix(p.Name, k.config.Prefix) {
			continue
		}
		// The fake clientset ignores field selectors.
		if p.Status.Phase != corev1.PodRunning {
			continue
		}
		pods = append(pods, Pod{
			Name:    p.Name,
			IP:      p.Status.PodIP,
			Phase:   p.Status.Phase,
			Created: p.CreationTimestamp.Time,
		})
	}
	return pods, nil
}
