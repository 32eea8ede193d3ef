package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type mockMetricsRecorder struct {
	records []metricRecord
}

type metricRecord struct {
	method   string
	endpoint string
	status   string
	duration time.Duration
}

func (m *mockMetricsRecorder) record(method, endpoint, status string, duration time.Duration) {
	m.records = append(m.records, metricRecord{
		method:   method,
		endpoint: endpoint,
		status:   status,
		duration: duration,
	})
}

func (m *mockMetricsRecorder) reset() {
	m.records = []metricRecord{}
}

var mockRecorder = &mockMetricsRecorder{}

func setupMock() func() {
	original := recordHTTPRequest
	recordHTTPRequest = func(method, endpoint, status string, duration time.Duration) {
		mockRecorder.record(method, endpoint, status, duration)
	}
	return func() { recordHTTPRequest = original }
}

func init() {
	gin.SetMode(gin.TestMode)
}

func metricsRouter() *gin.Engine {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/task/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.DELETE("/api/task/:id", func(c *gin.Context) { c.Status(http.StatusForbidden) })
	r.POST("/api/prediction/predict", func(c *gin.Context) {
		time.Sleep(10 * time.Millisecond)
		c.Status(http.StatusCreated)
	})
	return r
}

func TestMetricsMiddleware(t *testing.T) {
	defer setupMock()()

	tests := []struct {
		name             string
		method           string
		path             string
		expectedEndpoint string
		expectedStatus   string
	}{
		{
			name:             "route template replaces id",
			method:           http.MethodGet,
			path:             "/api/task/42",
			expectedEndpoint: "/api/task/:id",
			expectedStatus:   "200",
		},
		{
			name:             "records handler status",
			method:           http.MethodDelete,
			path:             "/api/task/7",
			expectedEndpoint: "/api/task/:id",
			expectedStatus:   "403",
		},
		{
			name:             "unknown path collapses",
			method:           http.MethodGet,
			path:             "/wp-admin/login.php",
			expectedEndpoint: "unmatched",
			expectedStatus:   "404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRecorder.reset()

			w := httptest.NewRecorder()
			metricsRouter().ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if len(mockRecorder.records) != 1 {
				t.Fatalf("expected 1 metric record, got %d", len(mockRecorder.records))
			}
			record := mockRecorder.records[0]
			if record.method != tt.method {
				t.Errorf("expected method %s, got %s", tt.method, record.method)
			}
			if record.endpoint != tt.expectedEndpoint {
				t.Errorf("expected endpoint %s, got %s", tt.expectedEndpoint, record.endpoint)
			}
			if record.status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, record.status)
			}
		})
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	defer setupMock()()
	mockRecorder.reset()

	w := httptest.NewRecorder()
	metricsRouter().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/prediction/predict", nil))

	if len(mockRecorder.records) != 1 {
		t.Fatalf("expected 1 metric record, got %d", len(mockRecorder.records))
	}
	if mockRecorder.records[0].duration < 10*time.Millisecond {
		t.Errorf("expected duration >= 10ms, got %v", mockRecorder.records[0].duration)
	}
}
