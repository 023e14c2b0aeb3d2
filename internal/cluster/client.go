package cluster

import (
	"github.com/pkg/errors"
	corev1api "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	kbclient "sigs.k8s.io/controller-runtime/pkg/client"

	velerov1api "github.com/vmware-tanzu/velero/pkg/apis/velero/v1"
)

// Clients bundles the typed client used for Velero resources and the
// clientset used for discovery, nodes and ConfigMaps.
type Clients struct {
	Kube        kubernetes.Interface
	Kubebuilder kbclient.Client
}

// NewScheme returns a scheme that knows the Velero v1 and core v1 types.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := velerov1api.AddToScheme(scheme); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := corev1api.AddToScheme(scheme); err != nil {
		return nil, errors.WithStack(err)
	}
	return scheme, nil
}

// ClientConfig resolves a rest.Config from an explicit kubeconfig path, the
// default loading rules, or the in-cluster service account.
func ClientConfig(kubeconfig string, qps float32, burst int) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		loadingRules.ExplicitPath = kubeconfig
	}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, errors.Wrap(err, "error finding Kubernetes API server config")
	}
	if qps > 0 {
		restConfig.QPS = qps
	}
	if burst > 0 {
		restConfig.Burst = burst
	}
	restConfig.UserAgent = "velero-api"
	return restConfig, nil
}

func NewClients(kubeconfig string, qps float32, burst int) (*Clients, error) {
	restConfig, err := ClientConfig(kubeconfig, qps, burst)
	if err != nil {
		return nil, err
	}

	kube, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}
	kb, err := kbclient.New(restConfig, kbclient.Options{Scheme: scheme})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Clients{Kube: kube, Kubebuilder: kb}, nil
}
