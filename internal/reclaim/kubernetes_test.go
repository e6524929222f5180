package reclaim

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"cifleet/internal/store"
)

func pod(name, ip string, phase corev1.PodPhase, created time.Time) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "ci",
			CreationTimestamp: metav1.NewTime(created),
		},
		Status: corev1.PodStatus{Phase: phase, PodIP: ip},
	}
}

func TestKubernetesTeardown_DeletesPod(t *testing.T) {
	clientset := fake.NewClientset(pod("k8s-test-1", "10.0.0.1", corev1.PodRunning, time.Now()))
	k := NewKubernetesTeardownWithClient(clientset, KubernetesConfig{Namespace: "ci"})
	ctx := context.Background()

	if err := k.Teardown(ctx, store.Node{Name: "k8s-test-1_10.0.0.1"}); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}

	pods, err := clientset.CoreV1().Pods("ci").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list pods: %v", err)
	}
	if len(pods.Items) != 0 {
		t.Errorf("expected pod to be deleted, %d left", len(pods.Items))
	}

	// Tearing down again is not an error.
	if err := k.Teardown(ctx, store.Node{Name: "k8s-test-1_10.0.0.1"}); err != nil {
		t.Errorf("second Teardown failed: %v", err)
	}
}

func TestKubernetesTeardown_ListPods(t *testing.T) {
	now := time.Now()
	clientset := fake.NewClientset(
		pod("k8s-test-1", "10.0.0.1", corev1.PodRunning, now.Add(-3*time.Hour)),
		pod("k8s-test-2", "10.0.0.2", corev1.PodPending, now),
		pod("jenkins-master", "10.0.0.3", corev1.PodRunning, now),
	)
	k := NewKubernetesTeardownWithClient(clientset, KubernetesConfig{Namespace: "ci"})

	pods, err := k.ListPods(context.Background())
	if err != nil {
		t.Fatalf("ListPods failed: %v", err)
	}
	if len(pods) != 1 {
		t.Fatalf("expected 1 running agent pod, got %d", len(pods))
	}
	if pods[0].NodeName() != "k8s-test-1_10.0.0.1" {
		t.Errorf("unexpected node name %s", pods[0].NodeName())
	}
}
