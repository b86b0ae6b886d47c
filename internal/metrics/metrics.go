// Package metrics holds the Prometheus collectors and the OpenTelemetry
// tracer of the indexer.
package metrics

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Task outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead"
	OutcomeBuried    = "buried"
	OutcomeRevoked   = "revoked"
	OutcomeLeaseLost = "lease_lost"
)

// Swap outcome labels.
const (
	SwapSwapped  = "swapped"
	SwapRejected = "rejected"
	SwapIgnored  = "ignored"
)

// Registry is the registry every indexer collector is registered on.
var Registry = prometheus.NewRegistry()

// Prometheus metrics
var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sercha_indexer_queue_depth",
			Help: "Leasable tasks per queue lane",
		},
		[]string{"lane"},
	)
	TaskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sercha_indexer_task_outcomes_total",
			Help: "Finished task handler runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sercha_indexer_task_duration_seconds",
			Help:    "Task handler run time by kind",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5m
		},
		[]string{"kind"},
	)
	DocumentsEmbedded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sercha_indexer_documents_embedded_total",
			Help: "Documents embedded into stored batches",
		},
	)
	DocumentsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sercha_indexer_documents_skipped_total",
			Help: "Documents skipped for data errors",
		},
	)
	RefreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sercha_indexer_refresh_cycles_total",
			Help: "Refresh cycles by final orchestration state",
		},
		[]string{"state"},
	)
	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sercha_indexer_build_duration_seconds",
			Help:    "Index build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 15), // 50ms to ~27m
		},
	)
	IndexVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sercha_indexer_index_vectors",
			Help: "Vectors in the most recently built index version",
		},
	)
	Swaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sercha_indexer_swaps_total",
			Help: "Serving index swap attempts by outcome",
		},
		[]string{"outcome"},
	)
	ServingVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sercha_indexer_serving_vectors",
			Help: "Vectors in the index this node is serving",
		},
	)
	DegradedLoads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sercha_indexer_degraded_loads_total",
			Help: "Synchronous cold-start loads in the query path",
		},
	)
	QueryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sercha_indexer_query_duration_seconds",
			Help:    "Similarity query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
		},
	)
	StoredVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sercha_indexer_stored_versions",
			Help: "Index versions present in the object store",
		},
	)
)

var tracer = otel.Tracer("github.com/custodia-labs/sercha-indexer")

func init() {
	Registry.MustRegister(
		QueueDepth, TaskOutcomes, TaskDuration,
		DocumentsEmbedded, DocumentsSkipped, RefreshCycles,
		BuildDuration, IndexVectors,
		Swaps, ServingVectors, DegradedLoads, QueryLatency,
		StoredVersions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// StartSpan starts a span named name carrying attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// NewRouter mounts /metrics and a /healthz endpoint backed by health,
// which may be nil.
func NewRouter(health func(context.Context) error) chi.Router {
	r := chi.NewRouter()
	r.Handle("/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
