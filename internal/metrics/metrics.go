package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "retriever"

// Registry is the global Prometheus registry for all metrics.
var Registry = prometheus.NewRegistry()

// AppInfo exposes version information as labels; the value is always 1.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthStatus tracks overall health. 0 = unhealthy, 1 = degraded, 2 = healthy.
var HealthStatus = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_status",
		Help:      "Overall server health status (0=unhealthy, 1=degraded, 2=healthy)",
	},
)

// HealthCheckStatus tracks individual check results. 0 = fail, 1 = warn, 2 = pass.
var HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_status",
		Help:      "Individual health check status (0=fail, 1=warn, 2=pass)",
	},
	[]string{"check"},
)

var HealthCheckLatency = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_latency_ms",
		Help:      "Health check latency in milliseconds",
	},
	[]string{"check"},
)

// Search metrics
var (
	SearchesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of federated searches by outcome",
		},
		[]string{"outcome"}, // outcome: ok|partial|failed|invalid
	)

	SearchDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end federated search duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	SearchGroups = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_groups",
			Help:      "Number of person groups returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	SearchesInFlight = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "searches_in_flight",
			Help:      "Current number of federated searches executing",
		},
	)
)

// Per-source metrics
var (
	SourceQueriesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_queries_total",
			Help:      "Total number of connector queries by source and result",
		},
		[]string{"source", "kind", "result"}, // result: ok|connection|query|timeout|config
	)

	SourceQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_query_duration_seconds",
			Help:      "Connector query duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source", "kind"},
	)

	SourceRowsReturned = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rows_returned_total",
			Help:      "Total number of matching rows returned by each source",
		},
		[]string{"source"},
	)

	FileCacheTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_cache_total",
			Help:      "Flat-file record cache lookups by result",
		},
		[]string{"result"}, // result: hit|miss
	)
)

// Redaction and audit metrics
var (
	RedactionPolicyReloads = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redaction_policy_reloads_total",
			Help:      "Redaction policy reloads by result",
		},
		[]string{"result"}, // result: success|error
	)

	RedactionPolicyFields = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redaction_policy_fields",
			Help:      "Number of field names in the active redaction policy",
		},
	)

	AuditEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events by sink and status",
		},
		[]string{"sink", "status"}, // status: written|error|dropped
	)
)

// Export metrics
var (
	ExportsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Search result exports by format and result",
		},
		[]string{"format", "result"},
	)

	ExportFilesDeleted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_files_deleted_total",
			Help:      "Expired export files removed by the retention job",
		},
	)
)

// Init registers runtime collectors and sets version information.
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// HealthValue maps a health status string to its gauge value.
func HealthValue(status string) float64 {
	switch status {
	case "pass", "healthy":
		return 2
	case "warn", "degraded":
		return 1
	default:
		return 0
	}
}
