package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/rzzdr/option-valuation/internal/websocket"
	"github.com/rzzdr/option-valuation/pkg/metrics"
	"github.com/rzzdr/option-valuation/pkg/utils/backpressure"
	"github.com/rzzdr/option-valuation/pkg/utils/circuit"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// Config holds the configuration for the API server
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Dependencies are the components the routes expose. Only Valuer is required.
type Dependencies struct {
	Valuer   Valuer
	Hub      *websocket.Hub
	Metrics  *metrics.Recorder
	Recorder RequestRecorder
	Limiter  *backpressure.Limiter
	Breakers *circuit.Manager
}

// Server represents the API server
type Server struct {
	config     Config
	router     *gin.Engine
	handler    http.Handler
	httpServer *http.Server
	deps       Dependencies
	log        *logger.Logger
}

// NewServer creates a new API server
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Valuer == nil {
		return nil, errors.New("api: a valuer is required")
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if len(config.AllowedMethods) == 0 {
		config.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}

	server := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		log:    logger.GetLogger("api.server"),
	}
	server.setupRoutes()

	server.handler = cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: config.AllowedMethods,
		AllowedHeaders: config.AllowedHeaders,
		MaxAge:         600,
	}).Handler(server.router)

	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           server.handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the root handler including CORS
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Stop is called. Stop before Start makes Start return
// immediately.
func (s *Server) Start() error {
	s.log.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
