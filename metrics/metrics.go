// Package metrics defines the gateway's prometheus collectors.
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "toolgateway"

// Metrics holds the collectors for one gateway instance.
type Metrics struct {
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	Rejections       *prometheus.CounterVec
	ProviderDials    *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	DiscoveryRuns    *prometheus.CounterVec
	Capabilities     *prometheus.GaugeVec
	ActiveSessions   prometheus.Gauge
	SessionEvictions *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Dispatched capability requests by operation and outcome category.",
		}, []string{"operation", "category"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Dispatch latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests rejected before reaching a provider.",
		}, []string{"reason"}),
		ProviderDials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_dials_total",
			Help:      "Provider connection attempts by result.",
		}, []string{"provider", "result"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per class (0 closed, 1 open, 2 half-open).",
		}, []string{"class"}),
		DiscoveryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Discovery cycles by result.",
		}, []string{"result"}),
		Capabilities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capabilities",
			Help:      "Registered capabilities by kind.",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open client transport sessions.",
		}),
		SessionEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_evictions_total",
			Help:      "Client sessions removed by reason.",
		}, []string{"reason"}),
	}
}

// ObserveRequest records one dispatched request.
func (m *Metrics) ObserveRequest(operation, category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, category).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Reject counts an early rejection.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// Dial records a provider connection attempt.
func (m *Metrics) Dial(providerID string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderDials.WithLabelValues(providerID, result).Inc()
}

// SetBreakerState publishes a breaker state as its numeric value.
func (m *Metrics) SetBreakerState(class string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(class).Set(float64(state))
}

// Discovery records a discovery cycle and the resulting capability counts.
func (m *Metrics) Discovery(err error, tools, resources, prompts int) {
	if m == nil {
		return
	}
	if err != nil {
		m.DiscoveryRuns.WithLabelValues("error").Inc()
		return
	}
	m.DiscoveryRuns.WithLabelValues("ok").Inc()
	m.Capabilities.WithLabelValues("tool").Set(float64(tools))
	m.Capabilities.WithLabelValues("resource").Set(float64(resources))
	m.Capabilities.WithLabelValues("prompt").Set(float64(prompts))
}

// SetSessions publishes the open session count.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// Evicted counts a removed client session.
func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.SessionEvictions.WithLabelValues(reason).Inc()
}
