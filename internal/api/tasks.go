package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/engine"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/lifecycle"
	"github.com/nadmax/forecastd/internal/middleware"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/task"
	"gopkg.in/guregu/null.v3"
)

const (
	sourcePreset = "preset"
	sourceUpload = "upload"
)

// predictRequest is accepted as JSON, or as multipart form fields with the
// CSV in "file" and hyperParams as a JSON string.
type predictRequest struct {
	TaskName       string      `json:"taskName"`
	ModelType      string      `json:"modelType"`
	ModelID        *int64      `json:"modelId"`
	HyperParams    task.Params `json:"hyperParams"`
	DataSourceType string      `json:"dataSourceType"`
	DatasetID      *int64      `json:"datasetId"`
}

type taskDetail struct {
	*task.Task
	Result *engine.Result `json:"result"`
}

func (a *API) predict(c *gin.Context) {
	in, cleanup, err := a.predictInput(c)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		httputil.Error(c, err)
		return
	}

	t, result, err := a.tasks.Predict(c.Request.Context(), middleware.SubjectFrom(c), in)
	if err != nil {
		var payload gin.H
		if t != nil {
			payload = gin.H{"taskId": t.ID}
		}
		httputil.ErrorWith(c, err, payload)
		return
	}

	httputil.OK(c, http.StatusOK, "prediction completed", gin.H{
		"taskId": t.ID,
		"result": result,
	})
}

func (a *API) predictInput(c *gin.Context) (lifecycle.CreateInput, func(), error) {
	var (
		req     predictRequest
		cleanup func()
		in      lifecycle.CreateInput
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		req.TaskName = c.PostForm("taskName")
		req.ModelType = c.PostForm("modelType")
		req.DataSourceType = c.PostForm("dataSourceType")
		if raw := c.PostForm("hyperParams"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.HyperParams); err != nil {
				return in, nil, apperr.Validation("hyperParams must be a JSON object")
			}
		}
		for field, dst := range map[string]**int64{"datasetId": &req.DatasetID, "modelId": &req.ModelID} {
			if raw := c.PostForm(field); raw != "" {
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return in, nil, apperr.Validation(field + " must be an integer")
				}
				*dst = &n
			}
		}

		if fh, err := c.FormFile("file"); err == nil && req.DataSourceType != sourcePreset {
			f, err := fh.Open()
			if err != nil {
				return in, nil, apperr.Validation("failed to read uploaded file")
			}
			cleanup = func() { _ = f.Close() }
			in.Upload = &lifecycle.Upload{Filename: fh.Filename, Body: f}
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		return in, nil, apperr.Validation("invalid request body: " + err.Error())
	}

	in.Name = req.TaskName
	in.ModelType = req.ModelType
	in.Hyperparams = req.HyperParams
	if req.ModelID != nil {
		in.ModelID = null.IntFrom(*req.ModelID)
	}
	if req.DatasetID != nil && req.DataSourceType != sourceUpload {
		in.DatasetID = null.IntFrom(*req.DatasetID)
	}
	return in, cleanup, nil
}

func (a *API) listTasks(c *gin.Context) {
	q := repository.TaskQuery{
		Status:     task.TaskStatus(c.Query("status")),
		SortBy:     c.DefaultQuery("sort_by", "created_at"),
		SortOrder:  repository.SortOrder(strings.ToLower(c.DefaultQuery("sort_order", "desc"))),
		Pagination: pagination(c),
	}

	page, err := a.tasks.List(c.Request.Context(), middleware.SubjectFrom(c), q)
	if err != nil {
		httputil.Error(c, err)
		return
	}

	payload := httputil.Pagination(page.Total, page.Page, page.PerPage, page.Pages)
	payload["tasks"] = page.Tasks
	httputil.OK(c, http.StatusOK, "", payload)
}

func (a *API) getTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	detail, err := a.tasks.Get(c.Request.Context(), middleware.SubjectFrom(c), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{
		"task": taskDetail{Task: detail.Task, Result: detail.Result},
	})
}

func (a *API) deleteTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	res, err := a.tasks.Delete(c.Request.Context(), middleware.SubjectFrom(c), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}

	var payload gin.H
	if res.ArtifactError != nil {
		payload = gin.H{"warning": "task deleted but its result file could not be removed"}
	}
	httputil.OK(c, http.StatusOK, "task deleted", payload)
}

func (a *API) rerunTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	next, err := a.tasks.Rerun(c.Request.Context(), middleware.SubjectFrom(c), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "task resubmitted", gin.H{"task_id": next.ID})
}

func (a *API) runTask(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	t, result, err := a.tasks.Run(c.Request.Context(), middleware.SubjectFrom(c), id)
	if err != nil {
		var payload gin.H
		if t != nil {
			payload = gin.H{"taskId": t.ID}
		}
		httputil.ErrorWith(c, err, payload)
		return
	}
	httputil.OK(c, http.StatusOK, "prediction completed", gin.H{
		"taskId": t.ID,
		"result": result,
	})
}

func (a *API) statistics(c *gin.Context) {
	stats, err := a.tasks.Statistics(c.Request.Context(), middleware.SubjectFrom(c))
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{
		"total_tasks":   stats.Total,
		"status_counts": stats.StatusCounts,
		"model_usage":   stats.ModelUsage,
	})
}
