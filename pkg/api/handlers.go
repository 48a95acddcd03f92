package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/backpressure"
	"github.com/rzzdr/option-valuation/pkg/utils/circuit"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// Valuer is the valuation pipeline the handlers call
type Valuer interface {
	ValueModels(ctx context.Context, req models.ValuationRequest) ([]models.Valuation, error)
	PriceExplicit(ctx context.Context, req models.PriceRequest) ([]models.Valuation, error)
	Greeks(req models.PriceRequest) (models.OptionGreeks, error)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// ValuationView adds display prices rounded to cents
type ValuationView struct {
	models.Valuation
	CallPrice string `json:"call_price"`
	PutPrice  string `json:"put_price"`
}

// ValuationsResponse wraps one or more valuations of the same contract
type ValuationsResponse struct {
	Valuations []ValuationView `json:"valuations"`
}

// HealthResponse reports liveness and the state of the data sources
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	Sources   []circuit.BreakerStats `json:"sources,omitempty"`
	Admission *backpressure.Stats    `json:"admission,omitempty"`
}

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	valuer   Valuer
	breakers *circuit.Manager
	limiter  *backpressure.Limiter
	log      *logger.Logger
}

// CreateHandlers creates new API handlers. breakers and limiter may be nil.
func CreateHandlers(valuer Valuer, breakers *circuit.Manager, limiter *backpressure.Limiter) *Handlers {
	return &Handlers{
		valuer:   valuer,
		breakers: breakers,
		limiter:  limiter,
		log:      logger.GetLogger("api.handlers"),
	}
}

// HealthCheckHandler handles health check requests
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}
	if h.breakers != nil {
		resp.Sources = h.breakers.Stats()
		for _, s := range resp.Sources {
			if s.State == circuit.StateOpen.String() {
				resp.Status = "degraded"
			}
		}
	}
	if h.limiter != nil {
		stats := h.limiter.Stats()
		resp.Admission = &stats
	}
	c.JSON(http.StatusOK, resp)
}

// ValuationHandler estimates parameters from market data and prices a contract
func (h *Handlers) ValuationHandler(c *gin.Context) {
	var req models.ValuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	valuations, err := h.valuer.ValueModels(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newValuationsResponse(valuations))
}

// PriceHandler prices from explicit market parameters
func (h *Handlers) PriceHandler(c *gin.Context) {
	var req models.PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	valuations, err := h.valuer.PriceExplicit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newValuationsResponse(valuations))
}

// GreeksHandler returns analytic sensitivities for explicit parameters
func (h *Handlers) GreeksHandler(c *gin.Context) {
	var req models.PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	greeks, err := h.valuer.Greeks(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, greeks)
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: fmt.Sprintf("invalid request body: %v", err),
		Type:  "bad_request",
	})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
		Type:  apperrors.TypeOf(err).String(),
	})
}

// StatusFor maps the error taxonomy onto HTTP status codes
func StatusFor(err error) int {
	if errors.Is(err, backpressure.ErrOverloaded) {
		return http.StatusTooManyRequests
	}
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeInvalidExpiry, apperrors.ErrorTypeInvalidParameter:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypeConfiguration:
		return http.StatusBadRequest
	case apperrors.ErrorTypeDataUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrorTypeNetwork:
		return http.StatusBadGateway
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func newValuationsResponse(valuations []models.Valuation) ValuationsResponse {
	views := make([]ValuationView, len(valuations))
	for i, v := range valuations {
		views[i] = ValuationView{
			Valuation: v,
			CallPrice: decimal.NewFromFloat(v.Quote.Call).StringFixed(2),
			PutPrice:  decimal.NewFromFloat(v.Quote.Put).StringFixed(2),
		}
	}
	return ValuationsResponse{Valuations: views}
}
