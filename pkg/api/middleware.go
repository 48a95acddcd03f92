package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/option-valuation/pkg/utils/backpressure"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// RequestRecorder observes every API request
type RequestRecorder interface {
	RecordAPIRequest(method, path string, status int, latency time.Duration)
}

// LoggingMiddleware logs request information
func LoggingMiddleware() gin.HandlerFunc {
	log := logger.GetLogger("api.middleware")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Infof("%s %s %s [%d] %v", c.ClientIP(), method, path, c.Writer.Status(), time.Since(start))
	}
}

// MetricsMiddleware captures API metrics. The route template is recorded
// instead of the raw path to keep label cardinality bounded.
func MetricsMiddleware(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		recorder.RecordAPIRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// ErrorMiddleware catches panics and returns an error response
func ErrorMiddleware() gin.HandlerFunc {
	log := logger.GetLogger("api.error")

	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("API panic recovered: %v", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error: "internal server error",
					Type:  "internal",
				})
			}
		}()

		c.Next()
	}
}

// AdmissionMiddleware bounds the request rate and the number of valuations
// running at once
func AdmissionMiddleware(limiter *backpressure.Limiter) gin.HandlerFunc {
	log := logger.GetLogger("api.admission")

	return func(c *gin.Context) {
		release, err := limiter.Acquire(c.Request.Context())
		if err != nil {
			if errors.Is(err, backpressure.ErrOverloaded) {
				log.Warnf("Rejected %s %s from %s: overloaded", c.Request.Method, c.Request.URL.Path, c.ClientIP())
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "server is busy, retry later",
				Type:  "overloaded",
			})
			return
		}
		defer release()

		c.Next()
	}
}
