package pricing

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

const (
	refCall = 10.450583572185565
	refPut  = 5.573526022256971
)

func init() {
	logger.SetOutput(io.Discard, "error")
}

func atTheMoney() (models.OptionContract, models.MarketParameters) {
	contract := models.OptionContract{
		Ticker: "TEST",
		Strike: 100,
		Expiry: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	params := models.MarketParameters{
		Spot:           100,
		Volatility:     0.2,
		RiskFreeRate:   0.05,
		TimeToMaturity: 1,
	}
	return contract, params
}

func seeded(seed uint64, workers int) MonteCarloConfig {
	cfg := DefaultMonteCarloConfig()
	cfg.Seed = &seed
	cfg.Workers = workers
	return cfg
}

func TestAnalyticReferenceValues(t *testing.T) {
	contract, params := atTheMoney()

	quote, err := NewAnalyticEngine().Price(context.Background(), contract, params)
	require.NoError(t, err)

	assert.Equal(t, models.ModelAnalytic, quote.Model)
	assert.InDelta(t, refCall, quote.Call, 1e-3)
	assert.InDelta(t, refPut, quote.Put, 1e-3)
}

func TestAnalyticParityIdentity(t *testing.T) {
	engine := NewAnalyticEngine()
	ctx := context.Background()

	for _, S := range []float64{50, 95, 100, 140} {
		for _, K := range []float64{60, 100, 130} {
			for _, r := range []float64{0, 0.01, 0.07} {
				for _, sigma := range []float64{0.05, 0.3, 0.9} {
					for _, T := range []float64{0.1, 1, 3} {
						contract := models.OptionContract{Ticker: "GRID", Strike: K}
						params := models.MarketParameters{Spot: S, Volatility: sigma, RiskFreeRate: r, TimeToMaturity: T}

						quote, err := engine.Price(ctx, contract, params)
						require.NoError(t, err)
						assert.InDelta(t, S-K*math.Exp(-r*T), quote.Call-quote.Put, 1e-9,
							"S=%v K=%v r=%v sigma=%v T=%v", S, K, r, sigma, T)
					}
				}
			}
		}
	}
}

func TestAnalyticDividendYield(t *testing.T) {
	contract, params := atTheMoney()
	contract.DividendYield = 0.03

	quote, err := NewAnalyticEngine().Price(context.Background(), contract, params)
	require.NoError(t, err)

	// Parity with a continuous dividend discounts the spot
	rhs := params.Spot*math.Exp(-0.03) - contract.Strike*math.Exp(-0.05)
	assert.InDelta(t, rhs, quote.Call-quote.Put, 1e-9)
	assert.Less(t, quote.Call, refCall)
}

func TestInvalidInputs(t *testing.T) {
	mc, err := NewMonteCarloEngine(seeded(1, 2))
	require.NoError(t, err)
	engines := []PricingEngine{NewAnalyticEngine(), mc}

	tests := []struct {
		name   string
		mutate func(*models.OptionContract, *models.MarketParameters)
	}{
		{"zero volatility", func(_ *models.OptionContract, p *models.MarketParameters) { p.Volatility = 0 }},
		{"negative volatility", func(_ *models.OptionContract, p *models.MarketParameters) { p.Volatility = -0.1 }},
		{"zero maturity", func(_ *models.OptionContract, p *models.MarketParameters) { p.TimeToMaturity = 0 }},
		{"zero spot", func(_ *models.OptionContract, p *models.MarketParameters) { p.Spot = 0 }},
		{"zero strike", func(c *models.OptionContract, _ *models.MarketParameters) { c.Strike = 0 }},
		{"NaN rate", func(_ *models.OptionContract, p *models.MarketParameters) { p.RiskFreeRate = math.NaN() }},
		{"infinite spot", func(_ *models.OptionContract, p *models.MarketParameters) { p.Spot = math.Inf(1) }},
	}

	for _, engine := range engines {
		for _, tt := range tests {
			t.Run(engine.Name()+"/"+tt.name, func(t *testing.T) {
				contract, params := atTheMoney()
				tt.mutate(&contract, &params)

				_, err := engine.Price(context.Background(), contract, params)
				require.Error(t, err)
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter), err.Error())
			})
		}
	}
}

func TestMonteCarloConvergence(t *testing.T) {
	contract, params := atTheMoney()
	engine, err := NewMonteCarloEngine(seeded(2024, 4))
	require.NoError(t, err)

	quote, err := engine.Price(context.Background(), contract, params)
	require.NoError(t, err)

	assert.Equal(t, models.ModelMonteCarlo, quote.Model)
	assert.Equal(t, 100000, quote.Trials)
	assert.Less(t, math.Abs(quote.Call-refCall)/refCall, 0.01)
	assert.Less(t, math.Abs(quote.Put-refPut)/refPut, 0.01)
	assert.Greater(t, quote.CallStdErr, 0.0)
	assert.Greater(t, quote.PutStdErr, 0.0)
	assert.False(t, quote.Clamped)
}

func TestMonteCarloSeedDeterminism(t *testing.T) {
	contract, params := atTheMoney()
	cfg := seeded(99, 8)
	cfg.Trials = 20000

	first, err := NewMonteCarloEngine(cfg)
	require.NoError(t, err)
	second, err := NewMonteCarloEngine(cfg)
	require.NoError(t, err)

	a, err := first.Price(context.Background(), contract, params)
	require.NoError(t, err)
	b, err := second.Price(context.Background(), contract, params)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestMonteCarloDividendAdjusted(t *testing.T) {
	contract, params := atTheMoney()
	contract.DividendYield = 0.03

	analytic, err := NewAnalyticEngine().Price(context.Background(), contract, params)
	require.NoError(t, err)

	cfg := seeded(2024, 4)
	cfg.DividendMode = DividendAdjusted
	engine, err := NewMonteCarloEngine(cfg)
	require.NoError(t, err)

	quote, err := engine.Price(context.Background(), contract, params)
	require.NoError(t, err)
	assert.Less(t, math.Abs(quote.Call-analytic.Call)/analytic.Call, 0.02)
	assert.Less(t, math.Abs(quote.Put-analytic.Put)/analytic.Put, 0.02)

	// Reference mode ignores q in the drift
	reference, err := NewMonteCarloEngine(seeded(2024, 4))
	require.NoError(t, err)
	refQuote, err := reference.Price(context.Background(), contract, params)
	require.NoError(t, err)
	assert.Greater(t, refQuote.Call, quote.Call)
}

func TestMonteCarloConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MonteCarloConfig)
	}{
		{"zero trials", func(c *MonteCarloConfig) { c.Trials = 0 }},
		{"negative trials", func(c *MonteCarloConfig) { c.Trials = -10 }},
		{"zero workers", func(c *MonteCarloConfig) { c.Workers = 0 }},
		{"zero block size", func(c *MonteCarloConfig) { c.BlockSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMonteCarloConfig()
			tt.mutate(&cfg)

			_, err := NewMonteCarloEngine(cfg)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		})
	}
}

func TestMonteCarloMoreWorkersThanTrials(t *testing.T) {
	contract, params := atTheMoney()
	cfg := seeded(5, 16)
	cfg.Trials = 3

	engine, err := NewMonteCarloEngine(cfg)
	require.NoError(t, err)

	quote, err := engine.Price(context.Background(), contract, params)
	require.NoError(t, err)
	assert.Equal(t, 3, quote.Trials)
	assert.GreaterOrEqual(t, quote.Call, 0.0)
}

func TestMonteCarloCancellation(t *testing.T) {
	contract, params := atTheMoney()
	engine, err := NewMonteCarloEngine(seeded(1, 2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Price(ctx, contract, params)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEngine(t *testing.T) {
	cfg := DefaultMonteCarloConfig()

	analytic, err := NewEngine(models.ModelAnalytic, cfg)
	require.NoError(t, err)
	assert.Equal(t, "analytic", analytic.Name())

	american, err := NewEngine(models.ModelAmerican, cfg)
	require.NoError(t, err)
	assert.Equal(t, "american", american.Name())
	assert.IsType(t, &MonteCarloEngine{}, american)

	_, err = NewEngine("binomial", cfg)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func TestParseDividendMode(t *testing.T) {
	mode, err := ParseDividendMode("Adjusted")
	require.NoError(t, err)
	assert.Equal(t, DividendAdjusted, mode)

	mode, err = ParseDividendMode("")
	require.NoError(t, err)
	assert.Equal(t, DividendReference, mode)

	_, err = ParseDividendMode("forward")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func TestParityChecker(t *testing.T) {
	contract, params := atTheMoney()
	quote, err := NewAnalyticEngine().Price(context.Background(), contract, params)
	require.NoError(t, err)

	checker := NewParityChecker()
	assert.True(t, checker.Check(quote.Call, quote.Put, contract, params))
	assert.InDelta(t, 0, checker.Residual(quote.Call, quote.Put, contract, params), 1e-9)

	// Moving either side by more than one unit breaks the rounded comparison
	assert.False(t, checker.Check(quote.Call+1.5, quote.Put, contract, params))
	assert.False(t, checker.Check(quote.Call, quote.Put+1.5, contract, params))
}

func TestParityRoundsHalfAwayFromZero(t *testing.T) {
	contract := models.OptionContract{Ticker: "RND", Strike: 100}
	// r = 0 makes rhs = S - K exactly
	params := models.MarketParameters{Spot: 102.5, TimeToMaturity: 1}

	result := NewParityChecker().Evaluate(3, 0, contract, params)
	assert.True(t, result.Holds, "2.5 rounds to 3")
	assert.Equal(t, 2.5, result.RHS)

	params.Spot = 97.5
	result = NewParityChecker().Evaluate(0, 3, contract, params)
	assert.True(t, result.Holds, "-2.5 rounds to -3")
}

func TestParityNonFiniteInputs(t *testing.T) {
	contract, params := atTheMoney()
	checkers := map[string]*ParityChecker{
		"rounding":  NewParityChecker(),
		"tolerance": NewParityChecker(WithTolerance(1)),
	}

	for name, pc := range checkers {
		for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			assert.NotPanics(t, func() {
				assert.False(t, pc.Check(x, 1, contract, params), "%s call=%v", name, x)
				assert.False(t, pc.Check(10, x, contract, params), "%s put=%v", name, x)
			})
		}

		inf := params
		inf.Spot = math.Inf(1)
		assert.False(t, pc.Evaluate(10, 5, contract, inf).Holds, name)
	}
}

func TestParityToleranceAndDividendMode(t *testing.T) {
	contract, params := atTheMoney()
	contract.DividendYield = 0.03
	quote, err := NewAnalyticEngine().Price(context.Background(), contract, params)
	require.NoError(t, err)

	strict := NewParityChecker(WithTolerance(1e-9))
	assert.False(t, strict.Check(quote.Call, quote.Put, contract, params))

	adjusted := NewParityChecker(WithTolerance(1e-9), WithDividendMode(DividendAdjusted))
	assert.True(t, adjusted.Check(quote.Call, quote.Put, contract, params))
}

func TestGreeks(t *testing.T) {
	contract, params := atTheMoney()
	engine := NewAnalyticEngine()

	greeks, err := engine.Greeks(contract, params)
	require.NoError(t, err)

	assert.InDelta(t, 0.6368, greeks.Call.Delta, 1e-4)
	assert.InDelta(t, -0.3632, greeks.Put.Delta, 1e-4)
	assert.InDelta(t, 1.0, greeks.Call.Delta-greeks.Put.Delta, 1e-12)
	assert.Equal(t, greeks.Call.Gamma, greeks.Put.Gamma)
	assert.Equal(t, greeks.Call.Vega, greeks.Put.Vega)
	assert.InDelta(t, 0.018762, greeks.Call.Gamma, 1e-6)
	assert.InDelta(t, 0.375240, greeks.Call.Vega, 1e-6)
	assert.Less(t, greeks.Call.Theta, 0.0)
	assert.Greater(t, greeks.Call.Rho, 0.0)
	assert.Less(t, greeks.Put.Rho, 0.0)

	params.Volatility = 0
	_, err = engine.Greeks(contract, params)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter))
}
