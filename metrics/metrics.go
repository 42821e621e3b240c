package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline and network metrics.
// A nil *Registry is valid and records nothing.
type Registry struct {
	ExamplesTotal   *prometheus.CounterVec
	BatchesTotal    prometheus.Counter
	BatchNodes      prometheus.Histogram
	BatchExamples   prometheus.Histogram
	StageDuration   *prometheus.HistogramVec
	ForwardDuration prometheus.Histogram
	PrefetchDepth   prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every metric registered under namespace.
func NewRegistry(namespace string) *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	factory := promauto.With(r.registry)

	r.ExamplesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "examples_total",
			Help:      "Examples processed by each pipeline stage",
		},
		[]string{"stage", "status"},
	)
	r.BatchesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Batches handed to the consumer",
	})
	r.BatchNodes = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_nodes",
		Help:      "Flattened node count per batch",
		Buckets:   prometheus.ExponentialBuckets(256, 2, 12),
	})
	r.BatchExamples = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_examples",
		Help:      "Examples per batch",
		Buckets:   prometheus.LinearBuckets(1, 4, 16),
	})
	r.StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per item in each pipeline stage",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"stage"},
	)
	r.ForwardDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "forward_duration_seconds",
		Help:      "Network forward pass duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
	})
	r.PrefetchDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "prefetch_depth",
		Help:      "Batches waiting in the prefetch buffer",
	})
	return r
}

// Gatherer exposes the underlying registry for scraping or inspection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordExample records one example leaving a stage.
func (r *Registry) RecordExample(stage string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.ExamplesTotal.WithLabelValues(stage, status).Inc()
	r.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordBatch records an assembled batch.
func (r *Registry) RecordBatch(examples, nodes int, duration time.Duration) {
	if r == nil {
		return
	}
	r.BatchesTotal.Inc()
	r.BatchExamples.Observe(float64(examples))
	r.BatchNodes.Observe(float64(nodes))
	r.StageDuration.WithLabelValues("assemble").Observe(duration.Seconds())
}

func (r *Registry) RecordForward(duration time.Duration) {
	if r == nil {
		return
	}
	r.ForwardDuration.Observe(duration.Seconds())
}

func (r *Registry) SetPrefetchDepth(n int) {
	if r == nil {
		return
	}
	r.PrefetchDepth.Set(float64(n))
}
