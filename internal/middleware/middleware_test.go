package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	valid, _, err := tokens.Issue(5, "alice", false)
	require.NoError(t, err)

	tests := []struct {
		name          string
		header        string
		authenticated bool
		err           error
	}{
		{name: "no header", header: ""},
		{name: "valid", header: "Bearer " + valid, authenticated: true},
		{name: "malformed", header: "Token " + valid, err: auth.ErrMalformedHeader},
		{name: "tampered", header: "Bearer " + valid + "x", err: auth.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got policy.Subject
			r := gin.New()
			r.Use(Authenticate(tokens))
			r.GET("/", func(c *gin.Context) {
				got = SubjectFrom(c)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.authenticated, got.Authenticated())
			if tt.err != nil {
				assert.ErrorIs(t, got.Err, tt.err)
			}
			if tt.authenticated {
				assert.Equal(t, int64(5), got.Claims.UserID)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user, _, err := tokens.Issue(5, "alice", false)
	require.NoError(t, err)
	admin, _, err := tokens.Issue(1, "root", true)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Authenticate(tokens))
	r.GET("/admin", Require(policy.RequireAdmin()), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name   string
		header string
		want   int
		reason string
	}{
		{name: "anonymous", want: http.StatusUnauthorized, reason: apperr.ReasonMissingToken},
		{name: "user", header: "Bearer " + user, want: http.StatusForbidden, reason: apperr.ReasonNotAdmin},
		{name: "admin", header: "Bearer " + admin, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.reason != "" {
				assert.Contains(t, w.Body.String(), tt.reason)
			}
		})
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), RequestLogger(zap.New(core)))
	r.GET("/api/task/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/task/3", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "request rejected", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["request_id"])
	assert.Equal(t, "/api/task/:id", fields["route"])
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
}

func TestRequestID_ReusesHeader(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
