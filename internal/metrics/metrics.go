// Package metrics exposes Prometheus collectors for verification decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "presence"

var (
	// SimilarityBuckets concentrate resolution around the login (0.70) and
	// enrollment (0.96-0.97) thresholds.
	SimilarityBuckets = []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 0.96, 0.97, 0.98, 0.99, 1}
	DurationBuckets   = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}
)

// Metrics holds all collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Decisions       *prometheus.CounterVec
	Similarity      *prometheus.HistogramVec
	DecisionLatency *prometheus.HistogramVec
	PopulationSize  *prometheus.GaugeVec
	StorageErrors   *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors. Runtime collectors are added
// when withRuntime is set; tests leave them out.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Verification decisions by mode, outcome and reason.",
		}, []string{"mode", "outcome", "reason"}),
		Similarity: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_similarity",
			Help:      "Similarity of the best candidate per decision.",
			Buckets:   SimilarityBuckets,
		}, []string{"mode", "signal"}),
		DecisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent loading the population and deciding.",
			Buckets:   DurationBuckets,
		}, []string{"mode"}),
		PopulationSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "population_size",
			Help:      "Active matchable profiles in the last loaded snapshot.",
		}, []string{"mode"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Repository failures by operation.",
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.Decisions, m.Similarity, m.DecisionLatency, m.PopulationSize,
		m.StorageErrors, m.HTTPRequests, m.HTTPDuration)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision records one login or enrollment decision. An empty reason
// is recorded as "none"; similarity is only observed when a candidate was found.
func (m *Metrics) ObserveDecision(mode, outcome, reason, signal string, similarity float64, matched bool, took time.Duration) {
	if reason == "" {
		reason = "none"
	}
	m.Decisions.WithLabelValues(mode, outcome, reason).Inc()
	m.DecisionLatency.WithLabelValues(mode).Observe(took.Seconds())
	if matched {
		m.Similarity.WithLabelValues(mode, signal).Observe(similarity)
	}
}

// ObservePopulation records the size of the snapshot a decision ran against.
func (m *Metrics) ObservePopulation(mode string, size int) {
	m.PopulationSize.WithLabelValues(mode).Set(float64(size))
}

// StorageError counts a failed repository call.
func (m *Metrics) StorageError(operation string) {
	m.StorageErrors.WithLabelValues(operation).Inc()
}
