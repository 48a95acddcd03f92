package pricing

import (
	"context"
	"math"

	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// AnalyticEngine implements the Black-Scholes model with a continuous dividend yield
type AnalyticEngine struct {
	log *logger.Logger
}

// NewAnalyticEngine creates a new Black-Scholes engine
func NewAnalyticEngine() *AnalyticEngine {
	return &AnalyticEngine{
		log: logger.GetLogger("pricing.analytic"),
	}
}

// Name returns the engine name
func (e *AnalyticEngine) Name() string {
	return string(models.ModelAnalytic)
}

// Price calculates the European call and put prices
func (e *AnalyticEngine) Price(_ context.Context, contract models.OptionContract, params models.MarketParameters) (models.PriceQuote, error) {
	in := newInputs(contract, params)
	if err := in.validate(); err != nil {
		e.log.Errorf("Invalid inputs for option pricing: S=%f, K=%f, T=%f, sigma=%f", in.S, in.K, in.T, in.sigma)
		return models.PriceQuote{}, err
	}

	call, put := BlackScholes(in.S, in.K, in.r, in.q, in.sigma, in.T)
	if err := checkFinite(call, put); err != nil {
		return models.PriceQuote{}, err
	}

	e.log.Debugf("Calculated Black-Scholes prices for %s: call=%f put=%f", contract.Ticker, call, put)
	return models.PriceQuote{
		Model: models.ModelAnalytic,
		Call:  call,
		Put:   put,
	}, nil
}

// BlackScholes returns call and put prices. Inputs are not validated; callers
// must ensure sigma > 0 and T > 0.
func BlackScholes(S, K, r, q, sigma, T float64) (call, put float64) {
	d1, d2 := dTerms(S, K, r, q, sigma, T)

	spotDisc := S * math.Exp(-q*T)
	strikeDisc := K * math.Exp(-r*T)

	call = spotDisc*normalCDF(d1) - strikeDisc*normalCDF(d2)
	put = strikeDisc*normalCDF(-d2) - spotDisc*normalCDF(-d1)
	return call, put
}

func dTerms(S, K, r, q, sigma, T float64) (d1, d2 float64) {
	sqrtT := math.Sqrt(T)
	d1 = (math.Log(S/K) + (r-q+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 = d1 - sigma*sqrtT
	return d1, d2
}
