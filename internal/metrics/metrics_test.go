package metrics

import (
	"testing"
	"time"

	"github.com/nadmax/forecastd/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTaskCreated(t *testing.T) {
	TasksCreated.Reset()

	tests := []struct {
		name      string
		modelType string
		source    string
		label     string
	}{
		{name: "preset dataset", modelType: "CrossGNN", source: "dataset", label: "CrossGNN"},
		{name: "upload", modelType: "LSTM", source: "upload", label: "LSTM"},
		{name: "no model", modelType: "", source: "dataset", label: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordTaskCreated(tt.modelType, tt.source)

			metric := getCounterValue(t, TasksCreated, tt.label, tt.source)
			assert.Greater(t, metric, 0.0, "counter should be incremented")
		})
	}
}

func TestRecordTaskCompleted(t *testing.T) {
	TasksCompleted.Reset()
	TaskDuration.Reset()

	RecordTaskCompleted("CrossGNN", 2*time.Second)

	assert.Equal(t, 1.0, getCounterValue(t, TasksCompleted, "CrossGNN"))
	assert.Equal(t, 2.0, getHistogramSum(t, TaskDuration, "CrossGNN", "completed"))
}

func TestRecordTaskFailed(t *testing.T) {
	TasksFailed.Reset()
	TaskDuration.Reset()

	RecordTaskFailed("", 500*time.Millisecond)

	assert.Equal(t, 1.0, getCounterValue(t, TasksFailed, "none"))
	assert.Equal(t, 0.5, getHistogramSum(t, TaskDuration, "none", "failed"))
}

func TestUpdateTaskGauges(t *testing.T) {
	TasksByStatus.Reset()

	UpdateTaskGauges(map[task.TaskStatus]int{
		task.PendingStatus:   2,
		task.CompletedStatus: 7,
	})
	UpdateTaskGauges(map[task.TaskStatus]int{
		task.PendingStatus: 1,
		task.FailedStatus:  3,
	})

	assert.Equal(t, 1.0, getGaugeValue(t, TasksByStatus, "pending"))
	assert.Equal(t, 3.0, getGaugeValue(t, TasksByStatus, "failed"))

	metric := &dto.Metric{}
	gauge, err := TasksByStatus.GetMetricWithLabelValues("completed")
	require.NoError(t, err)
	require.NoError(t, gauge.Write(metric))
	assert.Equal(t, 0.0, metric.Gauge.GetValue(), "stale status should be reset")
}

func TestRecordLogin(t *testing.T) {
	LoginAttempts.Reset()

	RecordLogin("success")
	RecordLogin("failure")
	RecordLogin("failure")

	assert.Equal(t, 1.0, getCounterValue(t, LoginAttempts, "success"))
	assert.Equal(t, 2.0, getCounterValue(t, LoginAttempts, "failure"))
}

func TestRecordAuditFailure(t *testing.T) {
	before := counterValue(t, AuditFailures)

	RecordAuditFailure()

	assert.Equal(t, before+1, counterValue(t, AuditFailures))
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	tests := []struct {
		name     string
		method   string
		endpoint string
		status   string
		duration time.Duration
	}{
		{name: "successful GET", method: "GET", endpoint: "/api/task/:id", status: "200", duration: 50 * time.Millisecond},
		{name: "failed POST", method: "POST", endpoint: "/api/prediction/predict", status: "500", duration: 100 * time.Millisecond},
		{name: "not found", method: "GET", endpoint: "unmatched", status: "404", duration: 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHTTPRequest(tt.method, tt.endpoint, tt.status, tt.duration)

			count := getCounterValue(t, HTTPRequestsTotal, tt.method, tt.endpoint, tt.status)
			assert.Greater(t, count, 0.0, "request counter should be incremented")

			sum := getHistogramSum(t, HTTPRequestDuration, tt.method, tt.endpoint)
			assert.Greater(t, sum, 0.0, "duration should be recorded")
		})
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	metric := &dto.Metric{}
	require.NoError(t, c.Write(metric))
	return metric.Counter.GetValue()
}

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	metric := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	require.NoError(t, c.Write(metric))
	return metric.Counter.GetValue()
}

func getGaugeValue(t *testing.T, gauge *prometheus.GaugeVec, labels ...string) float64 {
	metric := &dto.Metric{}
	g, err := gauge.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	require.NoError(t, g.Write(metric))
	return metric.Gauge.GetValue()
}

func getHistogramSum(t *testing.T, histogram *prometheus.HistogramVec, labels ...string) float64 {
	metric := &dto.Metric{}
	observer, err := histogram.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)

	h := observer.(prometheus.Histogram)
	require.NoError(t, h.Write(metric))
	return metric.Histogram.GetSampleSum()
}
