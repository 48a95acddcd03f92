package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// ParityChecker verifies put-call parity for a priced contract
type ParityChecker struct {
	tolerance *float64
	mode      DividendMode
	log       *logger.Logger
}

// ParityOption configures a ParityChecker
type ParityOption func(*ParityChecker)

// WithTolerance compares |lhs - rhs| against abs instead of rounding both
// sides to whole currency units
func WithTolerance(abs float64) ParityOption {
	return func(pc *ParityChecker) {
		pc.tolerance = &abs
	}
}

// WithDividendMode selects whether the spot is discounted by e^{-qT}
func WithDividendMode(mode DividendMode) ParityOption {
	return func(pc *ParityChecker) {
		pc.mode = mode
	}
}

// NewParityChecker creates a new parity checker
func NewParityChecker(opts ...ParityOption) *ParityChecker {
	pc := &ParityChecker{
		mode: DividendReference,
		log:  logger.GetLogger("pricing.parity"),
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// Check reports whether call - put matches S - K·e^{-rT}
func (pc *ParityChecker) Check(call, put float64, contract models.OptionContract, params models.MarketParameters) bool {
	return pc.Evaluate(call, put, contract, params).Holds
}

// Residual returns (call - put) - rhs
func (pc *ParityChecker) Residual(call, put float64, contract models.OptionContract, params models.MarketParameters) float64 {
	return (call - put) - pc.rhs(contract, params)
}

// Evaluate runs the check and returns both sides
func (pc *ParityChecker) Evaluate(call, put float64, contract models.OptionContract, params models.MarketParameters) models.ParityResult {
	lhs := call - put
	rhs := pc.rhs(contract, params)

	var holds bool
	switch {
	case !isFinite(lhs) || !isFinite(rhs):
		// a non-finite side never satisfies parity
	case pc.tolerance != nil:
		holds = math.Abs(lhs-rhs) <= *pc.tolerance
	default:
		// Round rounds half away from zero
		holds = decimal.NewFromFloat(lhs).Round(0).Equal(decimal.NewFromFloat(rhs).Round(0))
	}

	pc.log.Debugf("Put-call parity for %s: lhs=%f rhs=%f holds=%t", contract.Ticker, lhs, rhs, holds)
	return models.ParityResult{
		Holds:    holds,
		LHS:      lhs,
		RHS:      rhs,
		Residual: lhs - rhs,
	}
}

func (pc *ParityChecker) rhs(contract models.OptionContract, params models.MarketParameters) float64 {
	spot := params.Spot
	if pc.mode == DividendAdjusted {
		spot *= math.Exp(-contract.DividendYield * params.TimeToMaturity)
	}
	return spot - math.Exp(-params.RiskFreeRate*params.TimeToMaturity)*contract.Strike
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
