package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_records_enqueued_total",
		Help: "Total number of records placed on the processing queue.",
	})

	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_records_processed_total",
		Help: "Total number of records fully processed, labelled by outcome (success, failure).",
	}, []string{"outcome"})

	RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enricher_records_dropped_total",
		Help: "Total number of records rejected due to a full queue.",
	})

	// StageCounter holds the per-stage named counters, e.g. one per geo
	// attribute kind inserted by geo_city_lookup.
	StageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_stage_counter_total",
		Help: "Named counters scoped to a processing stage.",
	}, []string{"stage", "name"})

	// DocTypeCounter holds named counters split by document namespace and
	// type (valid_url, rejected_nonnull_url).
	DocTypeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_doctype_counter_total",
		Help: "Named counters labelled by document namespace and type.",
	}, []string{"document_namespace", "document_type", "name"})

	Failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_failures_total",
		Help: "Records routed to the failure output, labelled by stage and error type.",
	}, []string{"stage", "error_type"})

	ResourceLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enricher_resource_loads_total",
		Help: "Cached resource load attempts, labelled by resource and status.",
	}, []string{"resource", "status"})

	RecordProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enricher_record_processing_duration_ms",
		Help:    "Per-record processing latency in milliseconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enricher_queue_utilization_ratio",
		Help: "Current record queue utilization (0-1).",
	})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enricher_workers_busy",
		Help: "Workers currently processing a record.",
	})
)

// IncStage increments the named counter of a stage.
func IncStage(stage, name string) {
	StageCounter.WithLabelValues(stage, name).Inc()
}

// IncDocType increments a named counter for the record's namespace and type.
// Missing attributes are reported as "unknown".
func IncDocType(attrs map[string]string, name string) {
	ns, dt := attrs["document_namespace"], attrs["document_type"]
	if ns == "" {
		ns = "unknown"
	}
	if dt == "" {
		dt = "unknown"
	}
	DocTypeCounter.WithLabelValues(ns, dt, name).Inc()
}
