package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

func TestValuationRequestContract(t *testing.T) {
	req := ValuationRequest{Ticker: " aapl ", Strike: 100, Expiry: "2026-07-10", DividendYield: yield(0.01)}

	c, err := req.Contract()
	require.NoError(t, err)
	assert.Equal(t, "AAPL", c.Ticker)
	assert.Equal(t, time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC), c.Expiry)
	assert.Equal(t, 0.01, c.DividendYield)

	req.DividendYield = nil
	c, err = req.Contract()
	require.NoError(t, err)
	assert.Zero(t, c.DividendYield)
}

func yield(q float64) *float64 {
	return &q
}

func TestValuationRequestContractErrors(t *testing.T) {
	tests := []struct {
		name string
		req  ValuationRequest
		want apperrors.ErrorType
	}{
		{"bad expiry", ValuationRequest{Ticker: "AAPL", Strike: 100, Expiry: "10/07/2026"}, apperrors.ErrorTypeInvalidExpiry},
		{"zero strike", ValuationRequest{Ticker: "AAPL", Expiry: "2026-07-10"}, apperrors.ErrorTypeInvalidParameter},
		{"negative dividend", ValuationRequest{Ticker: "AAPL", Strike: 100, Expiry: "2026-07-10", DividendYield: yield(-0.1)}, apperrors.ErrorTypeInvalidParameter},
		{"blank ticker", ValuationRequest{Ticker: "  ", Strike: 100, Expiry: "2026-07-10"}, apperrors.ErrorTypeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Contract()
			require.Error(t, err)
			assert.Equal(t, tt.want, apperrors.TypeOf(err))
		})
	}
}

func TestRequestModels(t *testing.T) {
	tests := []struct {
		model string
		want  []PricingModel
	}{
		{"", []PricingModel{ModelAnalytic}},
		{"Both", []PricingModel{ModelAnalytic, ModelMonteCarlo}},
		{"monte_carlo", []PricingModel{ModelMonteCarlo}},
		{"american", []PricingModel{ModelAmerican}},
	}

	for _, tt := range tests {
		got, err := ValuationRequest{Model: tt.model}.Models()
		require.NoError(t, err, tt.model)
		assert.Equal(t, tt.want, got, tt.model)
	}

	_, err := PriceRequest{Model: "binomial"}.Models()
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func TestPriceRequestContract(t *testing.T) {
	now := time.Date(2026, 1, 9, 15, 30, 0, 0, time.UTC)

	c, err := PriceRequest{Strike: 100, TimeToMaturity: 0.5}.Contract(now)
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM", c.Ticker)
	// round(0.5 * 365) = 183 days after midnight
	assert.Equal(t, time.Date(2026, 7, 11, 0, 0, 0, 0, time.UTC), c.Expiry)

	c, err = PriceRequest{Ticker: "spy", Strike: 100, TimeToMaturity: 0.0001}.Contract(now)
	require.NoError(t, err)
	assert.Equal(t, "SPY", c.Ticker)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), c.Expiry)

	for _, T := range []float64{0, -1, 1001} {
		_, err := PriceRequest{Strike: 100, TimeToMaturity: T}.Contract(now)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter), "T=%v", T)
	}
}

func TestPriceRequestParameters(t *testing.T) {
	now := time.Now()
	p := PriceRequest{Spot: 101, Volatility: 0.2, RiskFreeRate: 0.05, TimeToMaturity: 1}.Parameters(now)
	assert.Equal(t, MarketParameters{Spot: 101, Volatility: 0.2, RiskFreeRate: 0.05, TimeToMaturity: 1, EstimatedAt: now}, p)
}
