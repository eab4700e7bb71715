package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the server's instruments on a private registry so multiple
// server instances (as in tests) never collide on registration.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attempts        prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statquery",
			Name:      "tool_requests_total",
			Help:      "Tool invocations by tool name.",
		}, []string{"tool"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statquery",
			Name:      "tool_failures_total",
			Help:      "Failed tool invocations by tool name and error type.",
		}, []string{"tool", "error_type"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statquery",
			Name:      "tool_request_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "statquery",
			Name:      "question_attempts",
			Help:      "Generation attempts consumed per answered question.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}

	registry.MustRegister(m.requestsTotal, m.failuresTotal, m.requestDuration, m.attempts)

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
