// Package metrics defines the Prometheus instrumentation for the
// ingestion pipeline. All collectors hang off one Metrics value so tests
// can use an isolated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the pipeline emits.
type Metrics struct {
	// Producer side.
	IndexLatency  prometheus.Histogram
	PublishErrors prometheus.Counter
	AsyncRouted   *prometheus.CounterVec // label: mode (async|sync)
	SweepRequeued prometheus.Counter

	// Consumer side.
	DocumentsProcessed *prometheus.CounterVec   // label: outcome (success|partial|failed|dlq)
	StageDuration      *prometheus.HistogramVec // label: stage
	RetriesTotal       *prometheus.CounterVec   // label: operation
	EmbeddingFallback  prometheus.Counter
	DLQTotal           *prometheus.CounterVec // label: classification
	InFlight           prometheus.Gauge
	ProcessingRate     prometheus.Gauge
	BackpressureDelay  prometheus.Histogram

	// Resilience.
	BreakerState *prometheus.GaugeVec // label: downstream; 0=closed 1=half-open 2=open
}

// New registers all collectors on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IndexLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "archon_index_latency_seconds",
			Help:    "End-to-end latency of one document index request on the producer.",
			Buckets: prometheus.DefBuckets,
		}),
		PublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "archon_enrichment_publish_errors_total",
			Help: "Enrichment requests that failed to publish to Kafka.",
		}),
		AsyncRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archon_index_routed_total",
			Help: "Index requests routed by enrichment mode.",
		}, []string{"mode"}),
		SweepRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "archon_sweep_requeued_total",
			Help: "Stale pending documents re-published by the sweeper.",
		}),
		DocumentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archon_documents_processed_total",
			Help: "Documents processed by the consumer, by terminal outcome.",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archon_pipeline_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archon_retries_total",
			Help: "Retry attempts, by downstream operation.",
		}, []string{"operation"}),
		EmbeddingFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "archon_embedding_fallback_total",
			Help: "Documents stored with a zero vector after embedding failures.",
		}),
		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archon_dlq_messages_total",
			Help: "Messages routed to the dead letter queue, by classification.",
		}, []string{"classification"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "archon_enrichments_in_flight",
			Help: "Enrichments currently executing on this consumer.",
		}),
		ProcessingRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "archon_processing_rate_events_per_second",
			Help: "Sliding-window consumer processing rate.",
		}),
		BackpressureDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "archon_backpressure_delay_seconds",
			Help:    "Delay injected before processing when the rate cap is exceeded.",
			Buckets: []float64{.1, .5, 1, 2, 3, 4, 5},
		}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archon_circuit_breaker_state",
			Help: "Circuit breaker state per downstream (0 closed, 1 half-open, 2 open).",
		}, []string{"downstream"}),
	}
}
