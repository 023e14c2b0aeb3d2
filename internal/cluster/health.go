package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	corev1api "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"
)

// HealthStatus is the overall state of the cluster as seen by the probe.
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (h HealthStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// HealthReport is the result of the most recent probe.
type HealthReport struct {
	Status        HealthStatus `json:"status"`
	Reachable     bool         `json:"reachable"`
	ServerVersion string       `json:"server_version,omitempty"`
	Nodes         int          `json:"nodes"`
	ReadyNodes    int          `json:"ready_nodes"`
	FailureCount  int          `json:"failure_count"`
	LastCheck     time.Time    `json:"last_check"`
	LastSuccess   time.Time    `json:"last_success,omitempty"`
	LastFailure   time.Time    `json:"last_failure,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type HealthConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
	Clock       clock.PassiveClock
	Logger      logrus.FieldLogger
}

// HealthChecker probes the API server and node readiness. A single failed
// probe marks the cluster degraded, MaxFailures consecutive ones unhealthy.
type HealthChecker struct {
	mu          sync.RWMutex
	kube        kubernetes.Interface
	report      HealthReport
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	clock       clock.PassiveClock
	logger      logrus.FieldLogger
	stopChan    chan struct{}
	running     bool
}

func NewHealthChecker(kube kubernetes.Interface, cfg HealthConfig) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &HealthChecker{
		kube:        kube,
		report:      HealthReport{Status: Healthy},
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		clock:       cfg.Clock,
		logger:      cfg.Logger.WithField("component", "cluster-health"),
		stopChan:    make(chan struct{}),
	}
}

// Start runs a probe immediately and then every interval until Stop.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	h.logger.WithField("interval", h.interval).Info("Starting cluster health checks")
	h.Check(context.Background())

	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.Check(context.Background())
			case <-h.stopChan:
				return
			}
		}
	}()
}

func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		close(h.stopChan)
		h.running = false
		h.logger.Info("Cluster health checker stopped")
	}
}

// Check probes the cluster now and returns the updated report.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	version, err := h.kube.Discovery().ServerVersion()
	if err != nil {
		return h.recordFailure(errors.Wrap(err, "error getting server version"))
	}

	nodes, err := h.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return h.recordFailure(errors.Wrap(err, "error listing nodes"))
	}

	ready := 0
	for i := range nodes.Items {
		if nodeReady(&nodes.Items[i]) {
			ready++
		}
	}

	return h.recordSuccess(version.GitVersion, len(nodes.Items), ready)
}

// Report returns the last probe result without probing.
func (h *HealthChecker) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.report
}

func (h *HealthChecker) recordSuccess(version string, nodes, ready int) HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	previous := h.report.Status

	h.report.Reachable = true
	h.report.ServerVersion = version
	h.report.Nodes = nodes
	h.report.ReadyNodes = ready
	h.report.FailureCount = 0
	h.report.LastCheck = now
	h.report.LastSuccess = now
	h.report.Error = ""

	h.report.Status = Healthy
	if ready < nodes {
		h.report.Status = Degraded
	}
	if previous != h.report.Status {
		h.logger.WithField("status", h.report.Status).Info("Cluster health changed")
	}
	return h.report
}

func (h *HealthChecker) recordFailure(err error) HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	previous := h.report.Status

	h.report.Reachable = false
	h.report.FailureCount++
	h.report.LastCheck = now
	h.report.LastFailure = now
	h.report.Error = err.Error()

	h.report.Status = Degraded
	if h.report.FailureCount >= h.maxFailures {
		h.report.Status = Unhealthy
	}
	if previous != h.report.Status {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"status":   h.report.Status,
			"failures": h.report.FailureCount,
		}).Warn("Cluster health changed")
	}
	return h.report
}

func nodeReady(node *corev1api.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1api.NodeReady {
			return cond.Status == corev1api.ConditionTrue
		}
	}
	return false
}
