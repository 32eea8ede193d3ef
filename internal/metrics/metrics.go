// Package metrics provides Prometheus metrics for the forecasting service.
package metrics

import (
	"time"

	"github.com/nadmax/forecastd/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_tasks_created_total",
			Help: "Total number of prediction tasks created",
		},
		[]string{"model_type", "source"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_tasks_completed_total",
			Help: "Total number of prediction tasks completed successfully",
		},
		[]string{"model_type"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_tasks_failed_total",
			Help: "Total number of prediction tasks that failed",
		},
		[]string{"model_type"},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forecastd_tasks",
			Help: "Current number of stored tasks by status",
		},
		[]string{"status"},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastd_task_duration_seconds",
			Help:    "Wall-clock prediction duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model_type", "status"},
	)
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)
	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastd_audit_failures_total",
			Help: "System log entries that could not be written",
		},
	)
	ArtifactCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastd_artifact_cleanup_failures_total",
			Help: "Result artifacts that could not be removed",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// modelLabel keeps the label set bounded for tasks without a model.
func modelLabel(modelType string) string {
	if modelType == "" {
		return "none"
	}
	return modelType
}

func RecordTaskCreated(modelType, source string) {
	TasksCreated.WithLabelValues(modelLabel(modelType), source).Inc()
}

func RecordTaskCompleted(modelType string, duration time.Duration) {
	TasksCompleted.WithLabelValues(modelLabel(modelType)).Inc()
	TaskDuration.WithLabelValues(modelLabel(modelType), string(task.CompletedStatus)).Observe(duration.Seconds())
}

func RecordTaskFailed(modelType string, duration time.Duration) {
	TasksFailed.WithLabelValues(modelLabel(modelType)).Inc()
	TaskDuration.WithLabelValues(modelLabel(modelType), string(task.FailedStatus)).Observe(duration.Seconds())
}

func UpdateTaskGauges(counts map[task.TaskStatus]int) {
	TasksByStatus.Reset()
	for status, n := range counts {
		TasksByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

func RecordLogin(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

func RecordAuditFailure() {
	AuditFailures.Inc()
}

func RecordArtifactCleanupFailure() {
	ArtifactCleanupFailures.Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
