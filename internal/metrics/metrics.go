package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics contains Prometheus metrics for the API server. A nil
// *ServerMetrics is valid and records nothing.
type ServerMetrics struct {
	metrics map[string]prometheus.Collector
}

const (
	metricNamespace = "velero_api"

	websocketConnections            = "websocket_connections"
	websocketBroadcastFailuresTotal = "websocket_broadcast_failures_total"
	rateLimitRejectionsTotal        = "rate_limit_rejections_total"
	schedulerJobRunsTotal           = "scheduler_job_runs_total"
	schedulerJobDurationSeconds     = "scheduler_job_duration_seconds"
	busRequestsTotal                = "bus_requests_total"

	routeLabel    = "route"
	endpointLabel = "endpoint"
	resultLabel   = "result"

	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultTimeout  = "timeout"
	ResultNotFound = "not_found"
	ResultInvalid  = "invalid"
)

func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		metrics: map[string]prometheus.Collector{
			websocketConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricNamespace,
					Name:      websocketConnections,
					Help:      "Number of open WebSocket connections",
				},
			),
			websocketBroadcastFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      websocketBroadcastFailuresTotal,
					Help:      "Total number of failed writes during broadcasts",
				},
			),
			rateLimitRejectionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      rateLimitRejectionsTotal,
					Help:      "Total number of requests rejected by the rate limiter",
				},
				[]string{routeLabel},
			),
			schedulerJobRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      schedulerJobRunsTotal,
					Help:      "Total number of scheduled refresh jobs run, by result",
				},
				[]string{endpointLabel, resultLabel},
			),
			schedulerJobDurationSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricNamespace,
					Name:      schedulerJobDurationSeconds,
					Help:      "Time taken by scheduled refresh jobs, in seconds",
					Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
				[]string{endpointLabel},
			),
			busRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      busRequestsTotal,
					Help:      "Total number of message bus requests handled, by result",
				},
				[]string{resultLabel},
			),
		},
	}
}

// RegisterAllMetrics registers every collector with r.
func (m *ServerMetrics) RegisterAllMetrics(r prometheus.Registerer) error {
	for _, pm := range m.metrics {
		if err := r.Register(pm); err != nil {
			return err
		}
	}
	return nil
}

func (m *ServerMetrics) SetWebSocketConnections(n int) {
	if m == nil {
		return
	}
	if g, ok := m.metrics[websocketConnections].(prometheus.Gauge); ok {
		g.Set(float64(n))
	}
}

func (m *ServerMetrics) RegisterBroadcastFailure() {
	if m == nil {
		return
	}
	if c, ok := m.metrics[websocketBroadcastFailuresTotal].(prometheus.Counter); ok {
		c.Inc()
	}
}

func (m *ServerMetrics) RegisterRateLimitRejection(route string) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[rateLimitRejectionsTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(route).Inc()
	}
}

// InitJob zeroes the counters of a scheduled endpoint so it shows up before its first run.
func (m *ServerMetrics) InitJob(endpoint string) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[schedulerJobRunsTotal].(*prometheus.CounterVec); ok {
		for _, result := range []string{ResultSuccess, ResultFailure, ResultTimeout} {
			c.WithLabelValues(endpoint, result).Add(0)
		}
	}
}

func (m *ServerMetrics) RegisterJobRun(endpoint, result string, took time.Duration) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[schedulerJobRunsTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(endpoint, result).Inc()
	}
	if h, ok := m.metrics[schedulerJobDurationSeconds].(*prometheus.HistogramVec); ok {
		h.WithLabelValues(endpoint).Observe(took.Seconds())
	}
}

func (m *ServerMetrics) RegisterBusRequest(result string) {
	if m == nil {
		return
	}
	if c, ok := m.metrics[busRequestsTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(result).Inc()
	}
}
