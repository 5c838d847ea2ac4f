// Package metrics exposes orchestrator measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-categorizer/internal/categorization"
	"github.com/dvloznov/finance-categorizer/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "categorizer"

// Cycle results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// PrometheusRecorder implements categorization.Recorder on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	batchesSubmitted        prometheus.Counter
	batchSize               prometheus.Histogram
	batchTransitions        *prometheus.CounterVec
	transactionsCategorized *prometheus.CounterVec
	cycleDuration           *prometheus.HistogramVec
	cycleErrors             *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process
// collectors registered alongside the categorizer metrics.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Total number of batches accepted by the remote service.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of transactions per submitted batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		batchTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_transitions_total",
			Help:      "Total number of batches reaching a terminal status.",
		}, []string{"status"}),
		transactionsCategorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_categorized_total",
			Help:      "Total number of transactions assigned a category.",
		}, []string{"category"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of orchestrator cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cycle", "result"}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Total number of orchestrator cycles that returned an error.",
		}, []string{"cycle"}),
	}

	registry.MustRegister(
		r.batchesSubmitted,
		r.batchSize,
		r.batchTransitions,
		r.transactionsCategorized,
		r.cycleDuration,
		r.cycleErrors,
	)

	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) BatchSubmitted(size int) {
	r.batchesSubmitted.Inc()
	r.batchSize.Observe(float64(size))
}

func (r *PrometheusRecorder) BatchTransitioned(status domain.BatchStatus) {
	r.batchTransitions.WithLabelValues(string(status)).Inc()
}

func (r *PrometheusRecorder) TransactionsCategorized(counts map[domain.Category]int) {
	for category, n := range counts {
		if n <= 0 {
			continue
		}
		r.transactionsCategorized.WithLabelValues(string(category)).Add(float64(n))
	}
}

func (r *PrometheusRecorder) CycleFinished(cycle string, elapsed time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
		r.cycleErrors.WithLabelValues(cycle).Inc()
	}
	r.cycleDuration.WithLabelValues(cycle, result).Observe(elapsed.Seconds())
}

var _ categorization.Recorder = (*PrometheusRecorder)(nil)
