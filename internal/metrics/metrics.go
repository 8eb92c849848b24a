// Package metrics provides Prometheus instrumentation for the flag engine
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that only engine metrics appear on the /metrics
// endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonsaas/finhelm-flags/internal/core"
)

// Metrics holds all Prometheus collectors used by the flag engine server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EvaluationsTotal    *prometheus.CounterVec
	FlagCount           prometheus.Gauge
	AnalyticsRetained   prometheus.Gauge
	AnalyticsDropped    prometheus.Counter
	ImportsTotal        *prometheus.CounterVec
	ExportsTotal        prometheus.Counter
	AuthFailuresTotal   prometheus.Counter

	droppedSeen atomic.Uint64
}

// New creates and registers all engine metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagengine_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagengine_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagengine_evaluations_total",
			Help: "Total number of flag evaluations.",
		}, []string{"result", "rule"}),

		FlagCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagengine_flags",
			Help: "Number of flags in the registry.",
		}),

		AnalyticsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagengine_analytics_events_retained",
			Help: "Number of evaluation events currently retained.",
		}),

		AnalyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagengine_analytics_events_dropped_total",
			Help: "Total number of evaluation events evicted from the buffer.",
		}),

		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagengine_imports_total",
			Help: "Total number of flag import attempts.",
		}, []string{"outcome"}),

		ExportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagengine_exports_total",
			Help: "Total number of flag exports.",
		}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagengine_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EvaluationsTotal,
		m.FlagCount,
		m.AnalyticsRetained,
		m.AnalyticsDropped,
		m.ImportsTotal,
		m.ExportsTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the evaluation counter, classifying the result
// by the rule that decided it.
func (m *Metrics) RecordEvaluation(result core.Result) {
	m.EvaluationsTotal.WithLabelValues(strconv.FormatBool(result.Enabled), ruleClass(result.Reason)).Inc()
}

// SetFlagCount updates the registry size gauge.
func (m *Metrics) SetFlagCount(count int) {
	m.FlagCount.Set(float64(count))
}

// SetAnalyticsDropped advances the dropped-events counter to match a
// monotonic total read from the analytics buffer.
func (m *Metrics) SetAnalyticsDropped(total uint64) {
	seen := m.droppedSeen.Swap(total)
	if total > seen {
		m.AnalyticsDropped.Add(float64(total - seen))
	}
}

// RecordImport increments the import counter with "ok" or "error".
func (m *Metrics) RecordImport(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ImportsTotal.WithLabelValues(outcome).Inc()
}

// ruleClass folds parameterised reasons into a small stable label set so the
// evaluation counter's cardinality stays bounded.
func ruleClass(reason string) string {
	switch reason {
	case core.ReasonFlagNotFound:
		return "not_found"
	case core.ReasonEnvironmentOverride, core.ReasonEnvironmentDisabled:
		return "environment"
	case core.ReasonDefaultValue, core.ReasonDefaultRollout:
		return "default"
	case core.ReasonUserTargeted, core.ReasonOrgTargeted:
		return "targeted"
	case core.ReasonAttributeMismatch:
		return "attributes"
	}

	switch {
	case strings.HasPrefix(reason, "Dependency "):
		return "dependency"
	case strings.HasPrefix(reason, "User percentile"):
		return "percentile"
	case strings.HasPrefix(reason, "A/B test variant"):
		return "variant"
	default:
		return "other"
	}
}
