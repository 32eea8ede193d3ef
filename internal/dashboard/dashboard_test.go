package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDashboard(t *testing.T) (*Dashboard, *repository.MockStore, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMockStore()
	dash := NewDashboard(store)
	dash.now = func() time.Time { return now }

	r := gin.New()
	r.GET("/api/admin/overview", dash.GetStats)
	r.GET("/api/admin/recent", dash.GetRecentTasks)
	r.GET("/api/admin/logs", dash.GetLogs)
	return dash, store, r
}

func get(t *testing.T, r *gin.Engine, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func finished(name string, status task.TaskStatus, completedAgo time.Duration, seconds float64) task.Task {
	return task.Task{
		Name:        name,
		Status:      status,
		ModelName:   null.StringFrom("LSTM"),
		CreatedAt:   now.Add(-completedAgo - time.Minute),
		CompletedAt: null.TimeFrom(now.Add(-completedAgo)),
		Duration:    null.FloatFrom(seconds),
	}
}

func TestGetStats_Empty(t *testing.T) {
	_, _, r := setupTestDashboard(t)

	var body struct {
		Success  bool  `json:"success"`
		Overview Stats `json:"overview"`
	}
	code := get(t, r, "/api/admin/overview", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)
	assert.Zero(t, body.Overview.TotalTasks)
	assert.Equal(t, 0, body.Overview.StatusCounts[task.PendingStatus])
	assert.Equal(t, "N/A", body.Overview.AverageTime)
	assert.Equal(t, now, body.Overview.LastUpdated)
}

func TestGetStats_WithEntities(t *testing.T) {
	_, store, r := setupTestDashboard(t)
	store.SeedUser(models.User{Username: "alice", Email: "a@x.com"})
	store.SeedDataset(models.Dataset{Name: "electricity"})
	store.SeedModel(models.Model{Name: "LSTM", ModelType: "lstm"})
	store.SeedTask(task.Task{Name: "queued", Status: task.PendingStatus, CreatedAt: now})
	store.SeedTask(finished("ok", task.CompletedStatus, time.Hour, 2))
	store.SeedTask(finished("broken", task.FailedStatus, 2*time.Hour, 4))

	var body struct {
		Overview Stats `json:"overview"`
	}
	code := get(t, r, "/api/admin/overview", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, body.Overview.TotalUsers)
	assert.Equal(t, 1, body.Overview.TotalDatasets)
	assert.Equal(t, 1, body.Overview.TotalModels)
	assert.Equal(t, 3, body.Overview.TotalTasks)
	assert.Equal(t, 1, body.Overview.StatusCounts[task.CompletedStatus])
	assert.Equal(t, 1, body.Overview.StatusCounts[task.FailedStatus])
	assert.Equal(t, "3s", body.Overview.AverageTime)
}

func TestGetStats_StoreError(t *testing.T) {
	_, store, r := setupTestDashboard(t)
	store.StatsError = errors.New("connection refused")

	var body map[string]any
	code := get(t, r, "/api/admin/overview", &body)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "failed to compute statistics", body["message"])
}

func TestGetRecentTasks(t *testing.T) {
	_, store, r := setupTestDashboard(t)
	store.SeedTask(task.Task{Name: "queued", Status: task.PendingStatus, CreatedAt: now})
	store.SeedTask(finished("recent", task.CompletedStatus, time.Hour, 1.5))
	store.SeedTask(finished("newest", task.FailedStatus, time.Minute, 0.25))
	store.SeedTask(finished("old", task.CompletedStatus, 48*time.Hour, 3))

	var body struct {
		Tasks []TaskHistory `json:"tasks"`
	}
	code := get(t, r, "/api/admin/recent", &body)

	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.Tasks, 2)
	assert.Equal(t, "newest", body.Tasks[0].Name)
	assert.Equal(t, "250ms", body.Tasks[0].Duration)
	assert.Equal(t, "recent", body.Tasks[1].Name)
	assert.Equal(t, "1.5s", body.Tasks[1].Duration)
	assert.Equal(t, "LSTM", body.Tasks[1].Model)
}

func TestGetRecentTasks_Empty(t *testing.T) {
	_, _, r := setupTestDashboard(t)

	var body struct {
		Tasks []TaskHistory `json:"tasks"`
	}
	code := get(t, r, "/api/admin/recent", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body.Tasks)
	assert.Empty(t, body.Tasks)
}

func TestGetLogs(t *testing.T) {
	_, store, r := setupTestDashboard(t)
	logs := store.Logs()
	for i := 0; i < 3; i++ {
		require.NoError(t, logs.Append(t.Context(), &models.SystemLog{
			Level:     models.LevelInfo,
			Message:   "entry",
			Source:    "test",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	var body struct {
		Logs    []models.SystemLog `json:"logs"`
		Total   int                `json:"total"`
		Page    int                `json:"page"`
		PerPage int                `json:"per_page"`
		Pages   int                `json:"pages"`
	}
	code := get(t, r, "/api/admin/logs?page=2&per_page=2", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 2, body.Pages)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, now, body.Logs[0].CreatedAt, "oldest entry is on the last page")
}
