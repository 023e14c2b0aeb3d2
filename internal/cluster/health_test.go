package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	corev1api "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/aman-churiwal/velero-api/internal/logging"
)

func node(name string, ready corev1api.ConditionStatus) *corev1api.Node {
	return &corev1api.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1api.NodeStatus{
			Conditions: []corev1api.NodeCondition{{Type: corev1api.NodeReady, Status: ready}},
		},
	}
}

func newTestChecker(kube *kubefake.Clientset) (*HealthChecker, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(created)
	kube.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.33.3"}
	return NewHealthChecker(kube, HealthConfig{MaxFailures: 2, Clock: clk, Logger: logging.Discard()}), clk
}

func TestHealthCheckAllNodesReady(t *testing.T) {
	checker, _ := newTestChecker(kubefake.NewSimpleClientset(node("a", corev1api.ConditionTrue), node("b", corev1api.ConditionTrue)))

	report := checker.Check(context.Background())
	assert.Equal(t, Healthy, report.Status)
	assert.True(t, report.Reachable)
	assert.Equal(t, "v1.33.3", report.ServerVersion)
	assert.Equal(t, 2, report.Nodes)
	assert.Equal(t, 2, report.ReadyNodes)
	assert.Equal(t, report, checker.Report())
}

func TestHealthCheckNotReadyNodeDegrades(t *testing.T) {
	checker, _ := newTestChecker(kubefake.NewSimpleClientset(node("a", corev1api.ConditionTrue), node("b", corev1api.ConditionUnknown)))

	report := checker.Check(context.Background())
	assert.Equal(t, Degraded, report.Status)
	assert.Equal(t, 1, report.ReadyNodes)
}

func TestHealthCheckFailuresBecomeUnhealthy(t *testing.T) {
	kube := kubefake.NewSimpleClientset()
	checker, clk := newTestChecker(kube)

	failing := true
	kube.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		if failing {
			return true, nil, errors.New("connection refused")
		}
		return false, nil, nil
	})

	report := checker.Check(context.Background())
	assert.Equal(t, Degraded, report.Status)
	assert.False(t, report.Reachable)
	assert.Equal(t, 1, report.FailureCount)
	assert.Contains(t, report.Error, "connection refused")

	clk.Step(time.Second)
	report = checker.Check(context.Background())
	assert.Equal(t, Unhealthy, report.Status)
	assert.Equal(t, 2, report.FailureCount)

	failing = false
	clk.Step(time.Second)
	report = checker.Check(context.Background())
	assert.Equal(t, Healthy, report.Status)
	assert.Zero(t, report.FailureCount)
	assert.Equal(t, created.Add(2*time.Second), report.LastSuccess)
	assert.Equal(t, created.Add(time.Second), report.LastFailure)
	assert.Empty(t, report.Error)
}

func TestHealthStatusText(t *testing.T) {
	text, err := Unhealthy.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "unhealthy", string(text))
	assert.Equal(t, "unknown", HealthStatus(9).String())
}
