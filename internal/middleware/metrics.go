// Package middleware provides the gin middleware shared by every route:
// metrics, request logging, CORS and bearer-token authentication.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nadmax/forecastd/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

// Metrics records a request counter and latency histogram per route
// template, so /api/task/1 and /api/task/2 share one series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		recordHTTPRequest(c.Request.Method, endpoint(c), status, time.Since(start))
	}
}

func endpoint(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
