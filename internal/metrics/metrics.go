// Package metrics exposes the Prometheus collectors of the ShiftKPI host.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/savegress/shiftkpi/pkg/models"
)

const namespace = "shiftkpi"

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	reports        *prometheus.CounterVec
	reportDuration *prometheus.HistogramVec
	anomalies      *prometheus.CounterVec
	jobFailures    prometheus.Counter
	cacheRequests  *prometheus.CounterVec
	corrections    *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_total",
				Help:      "Total number of KPI reports produced.",
			},
			[]string{"scope", "source"},
		),
		reportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_duration_seconds",
				Help:      "KPI report computation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_total",
				Help:      "Total anomalies recorded in computed reports.",
			},
			[]string{"kind"},
		),
		jobFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_failures_total",
				Help:      "Total per-asset computations that failed their contract checks.",
			},
		),
		cacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Report cache lookups by result.",
			},
			[]string{"result"},
		),
		corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrections_total",
				Help:      "Repair corrections proposed and applied.",
			},
			[]string{"kind", "action"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reports, m.reportDuration, m.anomalies, m.jobFailures,
		m.cacheRequests, m.corrections, m.httpRequests, m.httpLatency,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGauge exposes a value sampled at scrape time
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}

// ObserveReport records a produced report and its anomalies
func (m *Metrics) ObserveReport(scope models.ScopeKind, source string, d time.Duration, anomalies models.AnomalyReport, failures int) {
	m.reports.WithLabelValues(string(scope), source).Inc()
	if source != "cache" {
		m.reportDuration.WithLabelValues(string(scope)).Observe(d.Seconds())
	}
	for kind, n := range anomalies.Counts {
		m.anomalies.WithLabelValues(string(kind)).Add(float64(n))
	}
	if failures > 0 {
		m.jobFailures.Add(float64(failures))
	}
}

// CacheResult records a cache lookup outcome: hit, miss or error
func (m *Metrics) CacheResult(result string) {
	m.cacheRequests.WithLabelValues(result).Inc()
}

// Corrections records proposed or applied corrections
func (m *Metrics) Corrections(corrections []models.Correction, action string) {
	for _, c := range corrections {
		m.corrections.WithLabelValues(string(c.Kind), action).Inc()
	}
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpLatency.WithLabelValues(method, route, code).Observe(d.Seconds())
}
