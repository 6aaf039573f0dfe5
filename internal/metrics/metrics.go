// Package metrics exposes the Prometheus instruments of the API. All
// recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered by the application.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RecomputationsTotal *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram

	QuotaDenialsTotal       *prometheus.CounterVec
	ReadOnlyRejectionsTotal *prometheus.CounterVec
}

// New creates a registry with the process collectors and the application metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "makercalc_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "makercalc_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RecomputationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "makercalc_formulation_recomputations_total",
				Help: "Formulation cost recomputations by result",
			},
			[]string{"result"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "makercalc_refresh_costs_duration_seconds",
				Help:    "Duration of refresh-costs passes over a workspace",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		QuotaDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "makercalc_quota_denials_total",
				Help: "Creations rejected because the plan limit was reached",
			},
			[]string{"resource"},
		),
		ReadOnlyRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "makercalc_read_only_rejections_total",
				Help: "Mutations rejected on soft locked items",
			},
			[]string{"resource"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecomputationsTotal,
		m.RefreshDuration,
		m.QuotaDenialsTotal,
		m.ReadOnlyRejectionsTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Recomputed counts one formulation recompute; result is updated, unchanged or failed.
func (m *Metrics) Recomputed(result string) {
	if m == nil {
		return
	}
	m.RecomputationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefresh(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) QuotaDenied(resource string) {
	if m == nil {
		return
	}
	m.QuotaDenialsTotal.WithLabelValues(resource).Inc()
}

func (m *Metrics) ReadOnlyRejected(resource string) {
	if m == nil {
		return
	}
	m.ReadOnlyRejectionsTotal.WithLabelValues(resource).Inc()
}
