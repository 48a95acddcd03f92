package pricing

import (
	"math"

	"github.com/rzzdr/option-valuation/pkg/models"
)

// Greeks calculates the analytic sensitivities of the call and the put.
// Theta is per calendar day, vega and rho per 1% move.
func (e *AnalyticEngine) Greeks(contract models.OptionContract, params models.MarketParameters) (models.OptionGreeks, error) {
	in := newInputs(contract, params)
	if err := in.validate(); err != nil {
		e.log.Errorf("Invalid inputs for Greeks calculation: S=%f, K=%f, T=%f, sigma=%f", in.S, in.K, in.T, in.sigma)
		return models.OptionGreeks{}, err
	}

	S, K, r, q, sigma, T := in.S, in.K, in.r, in.q, in.sigma, in.T
	d1, d2 := dTerms(S, K, r, q, sigma, T)
	sqrtT := math.Sqrt(T)
	divDisc := math.Exp(-q * T)
	rateDisc := math.Exp(-r * T)

	// Gamma and vega are shared by both sides
	gamma := divDisc * normalPDF(d1) / (S * sigma * sqrtT)
	vega := S * divDisc * normalPDF(d1) * sqrtT / 100
	decay := -S * sigma * divDisc * normalPDF(d1) / (2 * sqrtT)

	greeks := models.OptionGreeks{
		Call: models.Greeks{
			Delta: divDisc * normalCDF(d1),
			Gamma: gamma,
			Theta: (decay - r*K*rateDisc*normalCDF(d2) + q*S*divDisc*normalCDF(d1)) / 365,
			Vega:  vega,
			Rho:   K * T * rateDisc * normalCDF(d2) / 100,
		},
		Put: models.Greeks{
			Delta: divDisc * (normalCDF(d1) - 1),
			Gamma: gamma,
			Theta: (decay + r*K*rateDisc*normalCDF(-d2) - q*S*divDisc*normalCDF(-d1)) / 365,
			Vega:  vega,
			Rho:   -K * T * rateDisc * normalCDF(-d2) / 100,
		},
	}
	return greeks, nil
}
