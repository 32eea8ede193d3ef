// Package dashboard serves the admin monitoring views: entity counts with
// task statistics, recently finished tasks, and the system log.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
)

const recentWindow = 24 * time.Hour

type Dashboard struct {
	store repository.Store
	now   func() time.Time
}

type Stats struct {
	TotalUsers    int                     `json:"total_users"`
	TotalDatasets int                     `json:"total_datasets"`
	TotalModels   int                     `json:"total_models"`
	TotalTasks    int                     `json:"total_tasks"`
	StatusCounts  map[task.TaskStatus]int `json:"status_counts"`
	ModelUsage    []models.ModelUsage     `json:"model_usage"`
	AverageTime   string                  `json:"average_duration"`
	LastUpdated   time.Time               `json:"last_updated"`
}

type TaskHistory struct {
	TaskID      int64           `json:"task_id"`
	Name        string          `json:"name"`
	Model       string          `json:"model"`
	Status      task.TaskStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Duration    string          `json:"duration"`
}

func NewDashboard(store repository.Store) *Dashboard {
	return &Dashboard{store: store, now: time.Now}
}

// GetStats reports entity counts and statistics across all tasks.
func (d *Dashboard) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := Stats{LastUpdated: d.now().UTC()}

	counts := []struct {
		dst   *int
		count func() (int, error)
	}{
		{&stats.TotalUsers, func() (int, error) { return d.store.Users().Count(ctx) }},
		{&stats.TotalDatasets, func() (int, error) { return d.store.Datasets().Count(ctx) }},
		{&stats.TotalModels, func() (int, error) { return d.store.Models().Count(ctx) }},
	}
	for _, entry := range counts {
		n, err := entry.count()
		if err != nil {
			httputil.Error(c, apperr.StoreFailure("failed to count entities", err))
			return
		}
		*entry.dst = n
	}

	taskStats, err := d.store.Tasks().Stats(ctx, repository.Scope{All: true})
	if err != nil {
		httputil.Error(c, apperr.StoreFailure("failed to compute statistics", err))
		return
	}
	stats.TotalTasks = taskStats.Total
	stats.StatusCounts = taskStats.StatusCounts
	stats.ModelUsage = taskStats.ModelUsage

	recent, err := d.recent(c)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	stats.AverageTime = averageDuration(recent)

	httputil.OK(c, http.StatusOK, "", gin.H{"overview": stats})
}

// GetRecentTasks lists tasks that finished within the last 24 hours.
func (d *Dashboard) GetRecentTasks(c *gin.Context) {
	recent, err := d.recent(c)
	if err != nil {
		httputil.Error(c, err)
		return
	}

	history := make([]TaskHistory, 0, len(recent))
	for _, t := range recent {
		var duration string
		if t.Duration.Valid {
			duration = seconds(t.Duration.Float64).Round(time.Millisecond).String()
		}
		history = append(history, TaskHistory{
			TaskID:      t.ID,
			Name:        t.Name,
			Model:       t.ModelName.String,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
			CompletedAt: t.CompletedAt.Time,
			Duration:    duration,
		})
	}
	httputil.OK(c, http.StatusOK, "", gin.H{"tasks": history})
}

// recent returns the tasks finished within recentWindow, newest first.
func (d *Dashboard) recent(c *gin.Context) ([]task.Task, error) {
	tasks, _, err := d.store.Tasks().List(c.Request.Context(), repository.TaskQuery{
		Scope:      repository.Scope{All: true},
		SortBy:     "completed_at",
		SortOrder:  repository.Desc,
		Pagination: repository.Pagination{Page: 1, PerPage: repository.MaxPerPage},
	})
	if err != nil {
		return nil, apperr.StoreFailure("failed to list tasks", err)
	}

	cutoff := d.now().Add(-recentWindow)
	recent := []task.Task{}
	for _, t := range tasks {
		if !t.CompletedAt.Valid || t.CompletedAt.Time.Before(cutoff) {
			continue
		}
		recent = append(recent, t)
	}
	return recent, nil
}

func averageDuration(tasks []task.Task) string {
	var (
		total float64
		n     int
	)
	for _, t := range tasks {
		if t.Duration.Valid {
			total += t.Duration.Float64
			n++
		}
	}
	if n == 0 {
		return "N/A"
	}
	return seconds(total / float64(n)).Round(time.Millisecond).String()
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetLogs returns the system log, newest first.
func (d *Dashboard) GetLogs(c *gin.Context) {
	page := repository.Pagination{
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 20),
	}.Normalize()

	logs, total, err := d.store.Logs().List(c.Request.Context(), page)
	if err != nil {
		httputil.Error(c, apperr.StoreFailure("failed to list logs", err))
		return
	}

	payload := httputil.Pagination(total, page.Page, page.PerPage, page.Pages(total))
	payload["logs"] = logs
	httputil.OK(c, http.StatusOK, "", payload)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return n
}
