// Package metrics records query, indexing and provider figures for Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/kotae/internal/backend"
)

const namespace = "kotae"

// Recorder holds the service metrics. A nil *Recorder records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	queries        *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	indexOps       *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	backendUp      *prometheus.GaugeVec
}

// New registers the metrics on a fresh registry that also carries the Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the metrics on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: g,
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time from receiving a question to the last byte of its answer.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		indexOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Per-item index operations, by operation and result.",
		}, []string{"operation", "result"}),
		providerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Failed provider calls, by error class.",
		}, []string{"class"}),
		backendUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Result of the last availability probe (1 = available).",
		}, []string{"backend"}),
	}
}

// ObserveQuery counts one question and its latency.
func (r *Recorder) ObserveQuery(mode, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.queries.WithLabelValues(mode, outcome).Inc()
	r.queryLatency.WithLabelValues(mode).Observe(d.Seconds())
}

// IndexOp counts one per-item reconciler operation.
func (r *Recorder) IndexOp(operation string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.indexOps.WithLabelValues(operation, result).Inc()
}

// ProviderError counts err under its error class when it is a provider or integrity failure.
func (r *Recorder) ProviderError(err error) {
	if r == nil || err == nil {
		return
	}
	if class := ErrorClass(err); class != "" {
		r.providerErrors.WithLabelValues(class).Inc()
	}
}

// BackendUp records the outcome of an availability probe.
func (r *Recorder) BackendUp(name string, up bool) {
	if r == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	r.backendUp.WithLabelValues(name).Set(v)
}

// Handler serves the exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// ErrorClass names the provider error class of err, or "" for other errors.
func ErrorClass(err error) string {
	var (
		embErr *backend.EmbeddingError
		genErr *backend.GenerationError
		stErr  *backend.StoreError
	)
	switch {
	case errors.As(err, &embErr):
		return "embedding"
	case errors.As(err, &genErr):
		return "generation"
	case errors.As(err, &stErr):
		return "store"
	case errors.Is(err, backend.ErrIntegrity):
		return "integrity"
	}
	return ""
}
