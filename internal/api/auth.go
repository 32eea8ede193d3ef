package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/account"
	"github.com/nadmax/forecastd/internal/httputil"
	"github.com/nadmax/forecastd/internal/middleware"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository/models"
)

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func userSummary(u *models.User) gin.H {
	return gin.H{
		"id":       u.ID,
		"username": u.Username,
		"email":    u.Email,
		"is_admin": u.IsAdmin,
	}
}

func (a *API) register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	u, err := a.accounts.Register(c.Request.Context(), account.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}

	httputil.OK(c, http.StatusCreated, "registration successful", gin.H{
		"user": gin.H{"id": u.ID, "username": u.Username, "email": u.Email},
	})
}

func (a *API) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := a.accounts.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		httputil.Error(c, err)
		return
	}

	httputil.OK(c, http.StatusOK, "login successful", gin.H{
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       userSummary(res.User),
	})
}

func (a *API) profile(c *gin.Context) {
	u, err := a.accounts.Profile(c.Request.Context(), middleware.SubjectFrom(c))
	if err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "", gin.H{"user": u})
}

func (a *API) changePassword(c *gin.Context) {
	subject := middleware.SubjectFrom(c)
	// Authentication errors take precedence over body validation.
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		httputil.Error(c, err)
		return
	}

	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := a.accounts.ChangePassword(c.Request.Context(), subject, req.OldPassword, req.NewPassword); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "password updated", nil)
}

func (a *API) listUsers(c *gin.Context) {
	page, err := a.accounts.ListUsers(c.Request.Context(), middleware.SubjectFrom(c), pagination(c))
	if err != nil {
		httputil.Error(c, err)
		return
	}

	payload := httputil.Pagination(page.Total, page.Page, page.PerPage, page.Pages)
	payload["users"] = page.Users
	httputil.OK(c, http.StatusOK, "", payload)
}

func (a *API) deleteUser(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := a.accounts.DeleteUser(c.Request.Context(), middleware.SubjectFrom(c), id); err != nil {
		httputil.Error(c, err)
		return
	}
	httputil.OK(c, http.StatusOK, "user deleted", nil)
}
