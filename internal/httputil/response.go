// Package httputil writes the JSON envelope shared by every handler:
// {"success": bool, "message": string, ...payload}.
package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
)

// OK writes a successful envelope. payload keys are merged into the top
// level of the body.
func OK(c *gin.Context, status int, message string, payload gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

func WriteJSONError(c *gin.Context, message string, status int) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

// Error maps err to a status code and writes the failure envelope. The
// error is also attached to the context for the request logger.
func Error(c *gin.Context, err error) {
	ErrorWith(c, err, nil)
}

// ErrorWith is Error with extra payload keys, e.g. the id of a task that
// was persisted before the failure.
func ErrorWith(c *gin.Context, err error, payload gin.H) {
	_ = c.Error(err)

	body := gin.H{}
	for k, v := range payload {
		body[k] = v
	}
	body["success"] = false
	body["message"] = messageFor(err)
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	c.AbortWithStatusJSON(StatusFor(err), body)
}

func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindConflict:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// messageFor hides store and internal causes from clients. Engine failures
// are shown in full since they describe the caller's data.
func messageFor(err error) string {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	if e.Kind == apperr.KindEngineFailure {
		return e.Error()
	}
	return e.Message
}

// Pagination returns the list fields carried by every paged response.
func Pagination(total, page, perPage, pages int) gin.H {
	return gin.H{
		"total":    total,
		"page":     page,
		"per_page": perPage,
		"pages":    pages,
	}
}
