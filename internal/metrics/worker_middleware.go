package metrics

import (
	"time"
)

// PrometheusCollector feeds job-queue's metrics middleware.
type PrometheusCollector struct{}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{}
}

func (c *PrometheusCollector) JobStarted(jobType, queue string) {
	WorkerPoolActiveJobs.Inc()
}

func (c *PrometheusCollector) JobCompleted(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	JobsProcessedTotal.WithLabelValues(jobType, queue, "success").Inc()
	JobsProcessingDuration.WithLabelValues(jobType, queue).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobFailed(jobType, queue string, duration time.Duration) {
	WorkerPoolActiveJobs.Dec()
	JobsProcessedTotal.WithLabelValues(jobType, queue, "error").Inc()
	JobsProcessingDuration.WithLabelValues(jobType, queue).Observe(duration.Seconds())
}

func (c *PrometheusCollector) JobRetrying(jobType, queue string, attempt int) {
	JobsProcessedTotal.WithLabelValues(jobType, queue, "retry").Inc()
}
