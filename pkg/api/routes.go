package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(ErrorMiddleware())
	s.router.Use(LoggingMiddleware())
	if s.deps.Recorder != nil {
		s.router.Use(MetricsMiddleware(s.deps.Recorder))
	}

	h := CreateHandlers(s.deps.Valuer, s.deps.Breakers, s.deps.Limiter)

	v1 := s.router.Group("/api/v1")
	v1.GET("/health", h.HealthCheckHandler)

	// Pricing endpoints pass admission control
	pricing := v1.Group("")
	if s.deps.Limiter != nil {
		pricing.Use(AdmissionMiddleware(s.deps.Limiter))
	}
	pricing.POST("/valuations", h.ValuationHandler)
	pricing.POST("/price", h.PriceHandler)
	pricing.POST("/greeks", h.GreeksHandler)

	if s.deps.Hub != nil {
		s.router.GET("/ws/valuations", gin.WrapF(s.deps.Hub.HandleWebSocket))
	}
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Type: "not_found"})
	})
}
