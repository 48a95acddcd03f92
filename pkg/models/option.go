package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

// PricingModel identifies a pricing engine
type PricingModel string

const (
	ModelAnalytic   PricingModel = "analytic"
	ModelMonteCarlo PricingModel = "monte_carlo"
	// ModelAmerican selects the Monte-Carlo engine. It prices the terminal
	// payoff only and carries no early-exercise logic.
	ModelAmerican PricingModel = "american"
)

// ParseModel parses a model name as accepted by the CLI and the API
func ParseModel(name string) (PricingModel, error) {
	switch PricingModel(strings.ToLower(strings.TrimSpace(name))) {
	case ModelAnalytic, "european", "black_scholes", "":
		return ModelAnalytic, nil
	case ModelMonteCarlo, "montecarlo", "simulation":
		return ModelMonteCarlo, nil
	case ModelAmerican:
		return ModelAmerican, nil
	default:
		return "", apperrors.Configuration(fmt.Sprintf("unknown pricing model %q", name))
	}
}

// OptionContract holds the terms of a single-underlying option
type OptionContract struct {
	Ticker        string    `json:"ticker"`
	Strike        float64   `json:"strike"`
	Expiry        time.Time `json:"expiry"`
	DividendYield float64   `json:"dividend_yield"`
}

// Validate checks the static contract terms. Expiry is checked against the
// estimation date by the estimator.
func (c OptionContract) Validate() error {
	if strings.TrimSpace(c.Ticker) == "" {
		return apperrors.InvalidParameter("ticker is required")
	}
	if !(c.Strike > 0) || math.IsInf(c.Strike, 0) {
		return apperrors.InvalidParameter(fmt.Sprintf("strike must be positive, got %v", c.Strike))
	}
	if !(c.DividendYield >= 0) || math.IsInf(c.DividendYield, 0) {
		return apperrors.InvalidParameter(fmt.Sprintf("dividend yield must be >= 0, got %v", c.DividendYield))
	}
	if c.Expiry.IsZero() {
		return apperrors.InvalidExpiry("expiry date is required")
	}
	return nil
}

// MarketParameters are the estimated inputs shared by every pricing engine
type MarketParameters struct {
	Spot           float64   `json:"spot"`
	Volatility     float64   `json:"volatility"`
	RiskFreeRate   float64   `json:"risk_free_rate"`
	TimeToMaturity float64   `json:"time_to_maturity"`
	EstimatedAt    time.Time `json:"estimated_at"`
}

// PriceQuote is the output of a pricing engine
type PriceQuote struct {
	Model      PricingModel `json:"model"`
	Call       float64      `json:"call"`
	Put        float64      `json:"put"`
	Trials     int          `json:"trials,omitempty"`
	CallStdErr float64      `json:"call_std_err,omitempty"`
	PutStdErr  float64      `json:"put_std_err,omitempty"`
	Clamped    bool         `json:"clamped,omitempty"`
}

// PricePoint is a single daily close
type PricePoint struct {
	Date  time.Time `json:"date" yaml:"date"`
	Close float64   `json:"close" yaml:"close"`
}

// HistoricalSeries is a date-ordered close price history for one ticker
type HistoricalSeries struct {
	Ticker string       `json:"ticker"`
	Source string       `json:"source,omitempty"`
	Points []PricePoint `json:"points"`
}

// Len returns the number of observations
func (s HistoricalSeries) Len() int {
	return len(s.Points)
}

// Closes returns the close prices in date order
func (s HistoricalSeries) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}

// Last returns the most recent observation
func (s HistoricalSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Greeks for one side of an option
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// OptionGreeks groups call and put sensitivities
type OptionGreeks struct {
	Call Greeks `json:"call"`
	Put  Greeks `json:"put"`
}

// ParityResult reports a put-call parity check
type ParityResult struct {
	Holds    bool    `json:"holds"`
	LHS      float64 `json:"lhs"`
	RHS      float64 `json:"rhs"`
	Residual float64 `json:"residual"`
}

// Valuation is a complete priced contract
type Valuation struct {
	ID            string           `json:"id"`
	Contract      OptionContract   `json:"contract"`
	Parameters    MarketParameters `json:"parameters"`
	Quote         PriceQuote       `json:"quote"`
	Parity        *ParityResult    `json:"parity,omitempty"`
	EarlyExercise bool             `json:"early_exercise"`
	Duration      time.Duration    `json:"duration"`
	CreatedAt     time.Time        `json:"created_at"`
}
