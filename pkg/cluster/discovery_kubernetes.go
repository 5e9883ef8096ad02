package cluster

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// PodLister is the subset of a Kubernetes clientset's pod API this
// strategy needs, grounded on kubeclaw's and kubernaut's direct
// k8s.io/client-go dependencies and their ListPodsWithLabel shape.
type PodLister interface {
	ListPods(ctx context.Context, namespace, labelSelector string) ([]string, error)
}

// clientsetPodLister adapts a real *kubernetes.Clientset to PodLister.
type clientsetPodLister struct {
	clientset *kubernetes.Clientset
}

// NewClientsetPodLister wraps a real client-go Clientset.
func NewClientsetPodLister(clientset *kubernetes.Clientset) PodLister {
	return &clientsetPodLister{clientset: clientset}
}

func (l *clientsetPodLister) ListPods(ctx context.Context, namespace, labelSelector string) ([]string, error) {
	pods, err := l.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(pods.Items))
	for _, p := range pods.Items {
		if p.Status.PodIP != "" {
			names = append(names, p.Status.PodIP)
		} else {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// KubernetesDiscovery enumerates pods in Namespace matching LabelSelector
// and maps them to cluster members. This is exactly the "stub" spec.md
// calls for — no CRDs, no controller-runtime manager, no reconciliation
// loop — backed by a real clientset instead of a panic.
type KubernetesDiscovery struct {
	Lister        PodLister
	Namespace     string
	LabelSelector string
}

// Discover lists matching pods and returns their addresses.
func (d KubernetesDiscovery) Discover(ctx context.Context) ([]string, error) {
	members, err := d.Lister.ListPods(ctx, d.Namespace, d.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("%w: listing pods in %s: %v", ErrConnectionFailed, d.Namespace, err)
	}
	return members, nil
}
