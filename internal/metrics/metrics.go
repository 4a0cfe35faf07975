package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingestion metrics
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ingest_messages_total",
			Help: "Total number of messages handled by the intake paths",
		},
		[]string{"path", "status"}, // status: imported, import_failed, redeliver
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultline_ingest_conversion_duration_seconds",
			Help:    "Time taken to derive identity and metadata for a message",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"path"},
	)

	ProcessorFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_ingest_processor_failures_total",
			Help: "Total number of processor failures during dispatch",
		},
		[]string{"path", "processor"},
	)

	// Resilience metrics
	ImportFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_import_failures_total",
			Help: "Total number of messages stored as import failures",
		},
		[]string{"path"},
	)

	ReceiveFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_receive_failures_total",
			Help: "Total number of transport receive errors",
		},
		[]string{"path"},
	)

	BreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_breaker_consecutive_failures",
			Help: "Current run of consecutive import failures",
		},
		[]string{"path"},
	)

	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"path"},
	)

	ForensicRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_forensic_records_total",
			Help: "Total number of forensic records written",
		},
		[]string{"status"}, // status: written, failed
	)

	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_alerts_raised_total",
			Help: "Total number of operator alerts raised",
		},
		[]string{"severity"},
	)

	// Failure workflow metrics
	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_workflow_transitions_total",
			Help: "Total number of applied failure workflow transitions",
		},
		[]string{"transition"},
	)

	WorkflowNoopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_workflow_noops_total",
			Help: "Total number of idempotent no-op signals",
		},
		[]string{"kind"},
	)

	WorkflowConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_workflow_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on workflow save",
		},
	)

	// Event bus metrics
	BusPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_bus_publish_total",
			Help: "Total number of domain events and commands published",
		},
		[]string{"kind", "status"}, // status: success, failed
	)

	BusPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultline_bus_publish_retries_total",
			Help: "Total number of bus publish retries",
		},
	)

	// Worker metrics
	WorkerInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faultline_worker_in_flight",
			Help: "Messages currently being handled by receive loops",
		},
		[]string{"path"},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultline_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
