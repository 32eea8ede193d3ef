package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: apperr.Validation("bad"), want: http.StatusBadRequest},
		{name: "conflict", err: apperr.Conflict("dup"), want: http.StatusBadRequest},
		{name: "not found", err: apperr.NotFound("missing"), want: http.StatusNotFound},
		{name: "expired", err: apperr.Unauthenticated(apperr.ReasonTokenExpired, "expired"), want: http.StatusUnauthorized},
		{name: "forbidden", err: apperr.Forbidden(apperr.ReasonNotOwner, "no"), want: http.StatusForbidden},
		{name: "rate limited", err: apperr.RateLimited("slow down"), want: http.StatusTooManyRequests},
		{name: "engine", err: apperr.EngineFailure(errors.New("boom")), want: http.StatusInternalServerError},
		{name: "store", err: apperr.StoreFailure("save", errors.New("io")), want: http.StatusInternalServerError},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestError_HidesStoreCause(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, apperr.StoreFailure("failed to save task", errors.New("pq: password authentication failed")))

	body := decode(t, w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "failed to save task", body["message"])
	assert.Len(t, c.Errors, 1)
}

func TestError_Reason(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, apperr.Unauthenticated(apperr.ReasonTokenExpired, "token has expired"))

	body := decode(t, w)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_expired", body["reason"])
	assert.True(t, c.IsAborted())
}

func TestOK(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, http.StatusCreated, "created", gin.H{"id": 7})

	body := decode(t, w)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "created", body["message"])
	assert.Equal(t, 7.0, body["id"])
}

func TestPagination(t *testing.T) {
	got := Pagination(25, 2, 10, 3)

	assert.Equal(t, gin.H{"total": 25, "page": 2, "per_page": 10, "pages": 3}, got)
}

func TestErrorWith(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorWith(c, apperr.EngineFailure(errors.New("dataset has no rows")), gin.H{"taskId": 12, "success": true})

	body := decode(t, w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, false, body["success"], "payload cannot override the envelope")
	assert.Equal(t, 12.0, body["taskId"])
	assert.Equal(t, "prediction failed: dataset has no rows", body["message"])
}
