package metrics

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crux"

var (
	uuidRegex    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericRegex = regexp.MustCompile(`/[0-9]+(/|$)`)
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome code",
		},
		[]string{"status"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of accepted video uploads",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10),
		},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Blob store operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Blob store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_bytes_total",
			Help:      "Bytes moved through the blob store",
		},
		[]string{"direction"},
	)

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Analysis jobs enqueued by source and result",
		},
		[]string{"source", "result"},
	)

	EnqueueRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueue_retries_total",
			Help:      "Enqueue attempts retried after a queue error",
		},
	)

	ClimbTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "climb_transitions_total",
			Help:      "Climb status transitions",
		},
		[]string{"from", "to"},
	)

	JobsDiscardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_discarded_total",
			Help:      "Jobs consumed without running analysis",
		},
		[]string{"reason"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Analysis function duration",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"analyzer", "status"},
	)

	SweeperActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_actions_total",
			Help:      "Recovery actions taken by the sweeper",
		},
		[]string{"action"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs handled by the worker pool",
		},
		[]string{"job_type", "queue", "status"},
	)

	JobsProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handling duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"job_type", "queue"},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active_jobs",
			Help:      "Jobs currently running",
		},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_size",
			Help:      "Configured worker concurrency",
		},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Status webhook deliveries by result",
		},
		[]string{"result"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Build and runtime information",
		},
		[]string{"version", "environment", "service"},
	)

	AppUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_up",
			Help:      "Whether the process is up",
		},
	)
)

// NormalizePath collapses ids in a URL path so label cardinality stays flat.
func NormalizePath(path string) string {
	path = uuidRegex.ReplaceAllString(path, "{id}")
	return numericRegex.ReplaceAllString(path, "/{id}$1")
}

func RecordUpload(status string, sizeBytes int64) {
	UploadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		UploadBytes.Observe(float64(sizeBytes))
	}
}

func RecordJobEnqueued(source, result string) {
	JobsEnqueuedTotal.WithLabelValues(source, result).Inc()
}

func RecordEnqueueRetry() {
	EnqueueRetriesTotal.Inc()
}

func RecordTransition(from, to string) {
	ClimbTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordJobDiscarded(reason string) {
	JobsDiscardedTotal.WithLabelValues(reason).Inc()
}

func RecordAnalysis(analyzer, status string, durationSeconds float64) {
	AnalysisDuration.WithLabelValues(analyzer, status).Observe(durationSeconds)
}

func RecordSweeperAction(action string) {
	SweeperActionsTotal.WithLabelValues(action).Inc()
}

func RecordWebhookDelivery(result string) {
	WebhookDeliveriesTotal.WithLabelValues(result).Inc()
}

func SetAppInfo(version, environment, service string) {
	AppInfo.WithLabelValues(version, environment, service).Set(1)
	AppUp.Set(1)
}

func SetWorkerPoolSize(size int) {
	WorkerPoolSize.Set(float64(size))
}
