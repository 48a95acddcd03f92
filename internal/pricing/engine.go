package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

// PricingEngine prices the call and put of a contract from estimated market parameters
type PricingEngine interface {
	Price(ctx context.Context, contract models.OptionContract, params models.MarketParameters) (models.PriceQuote, error)
	Name() string
}

// DividendMode controls where the continuous dividend yield is applied
type DividendMode int

const (
	// DividendReference applies q only in the analytic formula. The simulation
	// drift and the parity right-hand side ignore it.
	DividendReference DividendMode = iota
	// DividendAdjusted subtracts q from the simulation drift and discounts the
	// spot by e^{-qT} in the parity check.
	DividendAdjusted
)

func (m DividendMode) String() string {
	switch m {
	case DividendAdjusted:
		return "adjusted"
	default:
		return "reference"
	}
}

// ParseDividendMode parses "reference" or "adjusted"
func ParseDividendMode(s string) (DividendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reference":
		return DividendReference, nil
	case "adjusted":
		return DividendAdjusted, nil
	default:
		return DividendReference, apperrors.Configuration(fmt.Sprintf("unknown dividend mode %q", s))
	}
}

// NewEngine returns the engine for a pricing model
func NewEngine(model models.PricingModel, mc MonteCarloConfig) (PricingEngine, error) {
	switch model {
	case models.ModelAnalytic:
		return NewAnalyticEngine(), nil
	case models.ModelMonteCarlo, models.ModelAmerican:
		engine, err := NewMonteCarloEngine(mc)
		if err != nil {
			return nil, err
		}
		engine.label = model
		return engine, nil
	default:
		return nil, apperrors.Configuration(fmt.Sprintf("unknown pricing model %q", model))
	}
}

// inputs is the flattened (S, K, r, q, sigma, T) tuple used by the formulas
type inputs struct {
	S, K, r, q, sigma, T float64
}

func newInputs(contract models.OptionContract, params models.MarketParameters) inputs {
	return inputs{
		S:     params.Spot,
		K:     contract.Strike,
		r:     params.RiskFreeRate,
		q:     contract.DividendYield,
		sigma: params.Volatility,
		T:     params.TimeToMaturity,
	}
}

// validate rejects inputs that would divide by zero or propagate NaN/Inf
func (in inputs) validate() error {
	for name, v := range map[string]float64{"spot": in.S, "strike": in.K, "rate": in.r, "dividend": in.q, "volatility": in.sigma, "maturity": in.T} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.InvalidParameter(fmt.Sprintf("%s is not finite: %v", name, v))
		}
	}
	if in.sigma <= 0 {
		return apperrors.InvalidParameter(fmt.Sprintf("volatility must be positive, got %v", in.sigma))
	}
	if in.T <= 0 {
		return apperrors.InvalidParameter(fmt.Sprintf("time to maturity must be positive, got %v", in.T))
	}
	if in.S <= 0 {
		return apperrors.InvalidParameter(fmt.Sprintf("spot price must be positive, got %v", in.S))
	}
	if in.K <= 0 {
		return apperrors.InvalidParameter(fmt.Sprintf("strike must be positive, got %v", in.K))
	}
	return nil
}

func checkFinite(call, put float64) error {
	if math.IsNaN(call) || math.IsInf(call, 0) || math.IsNaN(put) || math.IsInf(put, 0) {
		return apperrors.InvalidParameter(fmt.Sprintf("pricing produced non-finite result: call=%v put=%v", call, put))
	}
	return nil
}

// normalCDF returns the cumulative distribution function of the standard normal distribution
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// normalPDF returns the probability density function of the standard normal distribution
func normalPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
