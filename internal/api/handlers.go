// Package api wires the HTTP routes onto the account, catalog and task
// services.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/account"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/catalog"
	"github.com/nadmax/forecastd/internal/dashboard"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/lifecycle"
	"github.com/nadmax/forecastd/internal/middleware"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Deps struct {
	Store    repository.Store
	Tokens   *auth.TokenService
	Accounts *account.Service
	Catalog  *catalog.Service
	Tasks    *lifecycle.Manager
	Logger   *zap.Logger
}

type API struct {
	store    repository.Store
	accounts *account.Service
	catalog  *catalog.Service
	tasks    *lifecycle.Manager
	logger   *zap.Logger
	router   *gin.Engine
	now      func() time.Time
}

func NewAPI(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &API{
		store:    deps.Store,
		accounts: deps.Accounts,
		catalog:  deps.Catalog,
		tasks:    deps.Tasks,
		logger:   logger,
		router:   gin.New(),
		now:      time.Now,
	}
	a.setupRoutes(deps.Tokens)
	return a
}

func (a *API) setupRoutes(tokens *auth.TokenService) {
	r := a.router
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(a.logger),
		middleware.Metrics(),
		middleware.CORS(),
		middleware.Authenticate(tokens),
	)
	r.NoRoute(func(c *gin.Context) {
		httputil.WriteJSONError(c, "resource not found", http.StatusNotFound)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", a.health)

	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", a.register)
		authRoutes.POST("/login", a.login)
		authRoutes.GET("/profile", a.profile)
		authRoutes.POST("/change-password", a.changePassword)
	}

	prediction := api.Group("/prediction")
	{
		prediction.POST("/predict", a.predict)
		prediction.GET("/tasks", a.listTasks)
		prediction.GET("/tasks/:id", a.getTask)
	}

	tasks := api.Group("/task")
	{
		tasks.GET("", a.listTasks)
		tasks.GET("/statistics", a.statistics)
		tasks.GET("/:id", a.getTask)
		tasks.DELETE("/:id", a.deleteTask)
		tasks.POST("/:id/rerun", a.rerunTask)
		tasks.POST("/:id/run", a.runTask)
	}

	datasets := api.Group("/dataset")
	{
		datasets.GET("", a.listDatasets)
		datasets.GET("/:id", a.getDataset)
		datasets.POST("", a.uploadDataset)
		datasets.DELETE("/:id", a.deleteDataset)
	}

	modelRoutes := api.Group("/model")
	{
		modelRoutes.GET("", a.listModels)
		modelRoutes.GET("/types", a.modelTypes)
		modelRoutes.GET("/:id", a.getModel)
		modelRoutes.POST("", a.createModel)
		modelRoutes.PUT("/:id", a.updateModel)
		modelRoutes.DELETE("/:id", a.deleteModel)
	}

	dash := dashboard.NewDashboard(a.store)
	admin := api.Group("/admin", middleware.Require(policy.RequireAdmin()))
	{
		admin.GET("/users", a.listUsers)
		admin.DELETE("/users/:id", a.deleteUser)
		admin.GET("/logs", dash.GetLogs)
		admin.GET("/overview", dash.GetStats)
		admin.GET("/recent", dash.GetRecentTasks)
	}
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) health(c *gin.Context) {
	status, database, code := "ok", "ok", http.StatusOK
	if err := a.store.Ping(c.Request.Context()); err != nil {
		a.logger.Warn("health check: database unavailable", zap.Error(err))
		status, database, code = "degraded", "unavailable", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"success":   code == http.StatusOK,
		"status":    status,
		"database":  database,
		"timestamp": a.now().UTC(),
	})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		httputil.Error(c, apperr.Validation("invalid id"))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return n
}

func pagination(c *gin.Context) repository.Pagination {
	return repository.Pagination{
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", repository.DefaultPerPage),
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		httputil.Error(c, apperr.Validation("invalid request body: "+err.Error()))
		return false
	}
	return true
}
