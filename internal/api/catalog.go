package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/catalog"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/middleware"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/task"
)

type modelRequest struct {
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	ModelType     string      `json:"model_type"`
	DefaultParams task.Params `json:"default_params"`
}

type modelPatchRequest struct {
	Name          *string     `json:"name"`
	Description   *string     `json:"description"`
	DefaultParams task.Params `json:"default_params"`
}

func (a *API) listDatasets(c *gin.Context) {
	filter := repository.DatasetFilter{
		Category:   c.Query("category"),
		Pagination: pagination(c),
	}
	if raw := c.Query("is_preset"); raw != "" {
		preset, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.Error(c, apperr.Validation("is_preset must be a boolean"))
			return
		}
		filter.IsPreset = &preset
	}

	page, err := a.catalog.ListDatasets(c.Request.Context(), filter)
	if err != nil {
		httputil.Error(c, err)
		return
	}

	payload := httputil.Pagination(page.Total, page.Page, page.PerPage, page.Pages)
	payload["datasets"] = page.Items
	httputil.OK(c, http.StatusOK, "", payload)
}

func (a *API) getDataset(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	detail, err := a.catalog.GetDataset(c.Request.Context(), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{
		"dataset": detail.Dataset,
		"preview": detail.Preview,
	})
}

func (a *API) uploadDataset(c *gin.Context) {
	in := catalog.UploadInput{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
	}
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			httputil.Error(c, apperr.Validation("failed to read uploaded file"))
			return
		}
		defer func() { _ = f.Close() }()
		in.Filename, in.Body = fh.Filename, f
	}

	ds, err := a.catalog.UploadDataset(c.Request.Context(), middleware.SubjectFrom(c), in)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusCreated, "dataset uploaded", gin.H{"dataset": ds})
}

func (a *API) deleteDataset(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := a.catalog.DeleteDataset(c.Request.Context(), middleware.SubjectFrom(c), id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "dataset deleted", nil)
}

func (a *API) listModels(c *gin.Context) {
	page, err := a.catalog.ListModels(c.Request.Context(), repository.ModelFilter{
		ModelType:  c.Query("model_type"),
		Pagination: pagination(c),
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}

	payload := httputil.Pagination(page.Total, page.Page, page.PerPage, page.Pages)
	payload["models"] = page.Items
	httputil.OK(c, http.StatusOK, "", payload)
}

func (a *API) modelTypes(c *gin.Context) {
	types, err := a.catalog.ModelTypes(c.Request.Context())
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{"types": types})
}

func (a *API) getModel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	m, err := a.catalog.GetModel(c.Request.Context(), id)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{"model": m})
}

func (a *API) createModel(c *gin.Context) {
	var req modelRequest
	if !bindJSON(c, &req) {
		return
	}

	m, err := a.catalog.CreateModel(c.Request.Context(), middleware.SubjectFrom(c), catalog.ModelInput{
		Name:          req.Name,
		Description:   req.Description,
		ModelType:     req.ModelType,
		DefaultParams: req.DefaultParams,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusCreated, "model created", gin.H{"model": m})
}

func (a *API) updateModel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req modelPatchRequest
	if !bindJSON(c, &req) {
		return
	}

	m, err := a.catalog.UpdateModel(c.Request.Context(), middleware.SubjectFrom(c), id, catalog.ModelPatch{
		Name:          req.Name,
		Description:   req.Description,
		DefaultParams: req.DefaultParams,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "model updated", gin.H{"model": m})
}

func (a *API) deleteModel(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := a.catalog.DeleteModel(c.Request.Context(), middleware.SubjectFrom(c), id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "model deleted", nil)
}
