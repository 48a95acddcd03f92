package estimator

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

func init() {
	logger.SetOutput(io.Discard, "error")
}

// Friday
var today = time.Date(2026, 1, 9, 15, 30, 0, 0, time.UTC)

type fakeProvider struct {
	closes       []float64
	rate         float64
	historyErr   error
	rateErr      error
	historyCalls atomic.Int32
	rateCalls    atomic.Int32
	lastStart    time.Time
	block        chan struct{}
}

func (f *fakeProvider) FetchPriceHistory(ctx context.Context, ticker string, start time.Time, _ *time.Time) (models.HistoricalSeries, error) {
	f.historyCalls.Add(1)
	f.lastStart = start
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.HistoricalSeries{}, ctx.Err()
		}
	}
	if f.historyErr != nil {
		return models.HistoricalSeries{}, f.historyErr
	}
	return seriesOf(ticker, f.closes...), nil
}

func (f *fakeProvider) FetchShortTermRate(context.Context) (float64, error) {
	f.rateCalls.Add(1)
	return f.rate, f.rateErr
}

func seriesOf(ticker string, closes ...float64) models.HistoricalSeries {
	s := models.HistoricalSeries{Ticker: ticker}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.Points = append(s.Points, models.PricePoint{Date: start.AddDate(0, 0, i), Close: c})
	}
	return s
}

func contractExpiring(expiry time.Time) models.OptionContract {
	return models.OptionContract{Ticker: "AAPL", Strike: 100, Expiry: expiry}
}

func newEstimator(t *testing.T, p *fakeProvider, expiry time.Time, opts ...Option) *Estimator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return today })}, opts...)
	e, err := New(contractExpiring(expiry), p, opts...)
	require.NoError(t, err)
	return e
}

func TestTimeToMaturity(t *testing.T) {
	e := newEstimator(t, &fakeProvider{}, time.Date(2026, 1, 9+73, 0, 0, 0, 0, time.UTC))

	ttm, err := e.TimeToMaturity(today)
	require.NoError(t, err)
	assert.Equal(t, 73.0/365.0, ttm)

	// Intraday times are truncated to dates
	ttm, err = e.TimeToMaturity(today.Add(9 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 72.0/365.0, ttm)
}

func TestTimeToMaturityRejectsTodayAndPast(t *testing.T) {
	for _, expiry := range []time.Time{
		time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	} {
		e := newEstimator(t, &fakeProvider{}, expiry)
		_, err := e.TimeToMaturity(today)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidExpiry), err.Error())
	}
}

func TestRiskFreeRate(t *testing.T) {
	e := newEstimator(t, &fakeProvider{rate: 5.21}, today.AddDate(0, 3, 0))
	rate, err := e.RiskFreeRate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0521, rate, 1e-15)

	e = newEstimator(t, &fakeProvider{rateErr: errors.New("no observation")}, today.AddDate(0, 3, 0))
	_, err = e.RiskFreeRate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}

func TestEstimateVolatility(t *testing.T) {
	closes := []float64{100, 102, 99, 101, 104, 103}
	vol, err := EstimateVolatility(seriesOf("X", closes...), 252)
	require.NoError(t, err)

	var returns []float64
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	want := math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(252)
	assert.InDelta(t, want, vol, 1e-12)
}

func TestEstimateVolatilityUsesLookbackWindow(t *testing.T) {
	// A wild move outside the window must not affect the estimate
	wide, err := EstimateVolatility(seriesOf("X", 10, 100, 101, 100, 101), 4)
	require.NoError(t, err)
	narrow, err := EstimateVolatility(seriesOf("X", 100, 101, 100, 101), 4)
	require.NoError(t, err)
	assert.Equal(t, narrow, wide)
}

func TestEstimateVolatilityEdgeCases(t *testing.T) {
	_, err := EstimateVolatility(seriesOf("X", 100), 252)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))

	_, err = EstimateVolatility(seriesOf("X"), 252)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))

	vol, err := EstimateVolatility(seriesOf("X", 50, 50, 50, 50), 252)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol)

	vol, err = EstimateVolatility(seriesOf("X", 1, 2, 4, 8, 16), 252)
	require.NoError(t, err)
	assert.Equal(t, 0.0, vol, "constant log returns have zero variance")

	_, err = EstimateVolatility(seriesOf("X", 100, 0, 101), 252)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter))

	_, err = EstimateVolatility(seriesOf("X", 100, -5, 101), 252)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter))
}

func TestEstimateSpotPrice(t *testing.T) {
	spot, err := EstimateSpotPrice(seriesOf("X", 100, 101, 103.5))
	require.NoError(t, err)
	assert.Equal(t, 103.5, spot)

	_, err = EstimateSpotPrice(seriesOf("X"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}

func TestSeriesIsFetchedOnce(t *testing.T) {
	p := &fakeProvider{closes: []float64{100, 101, 102}, rate: 4}
	e := newEstimator(t, p, today.AddDate(0, 6, 0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Volatility(context.Background())
			_, _ = e.SpotPrice(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.historyCalls.Load())
}

func TestSeriesDefaultAndOverriddenStart(t *testing.T) {
	p := &fakeProvider{closes: []float64{100, 101}}
	e := newEstimator(t, p, today.AddDate(0, 6, 0), WithLookback(5))
	_, err := e.Series(context.Background())
	require.NoError(t, err)
	// Five weekdays before Friday 2026-01-09
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), p.lastStart)

	start := time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC)
	p = &fakeProvider{closes: []float64{100, 101}}
	e = newEstimator(t, p, today.AddDate(0, 6, 0), WithHistoryStart(start))
	_, err = e.Series(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start, p.lastStart)
}

func TestSeriesFailureIsNotCached(t *testing.T) {
	p := &fakeProvider{historyErr: errors.New("all sources failed")}
	e := newEstimator(t, p, today.AddDate(0, 6, 0))

	_, err := e.Series(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))

	p.historyErr = nil
	p.closes = []float64{100, 101}
	series, err := e.Series(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
	assert.Equal(t, int32(2), p.historyCalls.Load())
}

func TestEstimate(t *testing.T) {
	p := &fakeProvider{closes: []float64{100, 102, 99, 101, 104, 103}, rate: 5}
	expiry := time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC)
	e := newEstimator(t, p, expiry)

	params, err := e.Estimate(context.Background())
	require.NoError(t, err)

	vol, _ := EstimateVolatility(seriesOf("AAPL", p.closes...), DefaultLookbackDays)
	assert.Equal(t, 103.0, params.Spot)
	assert.Equal(t, vol, params.Volatility)
	assert.InDelta(t, 0.05, params.RiskFreeRate, 1e-15)
	assert.Equal(t, 180.0/365.0, params.TimeToMaturity)
	assert.Equal(t, today, params.EstimatedAt)
}

func TestEstimateAbortsOnFirstFailure(t *testing.T) {
	// An expired contract fails before any history fetch
	p := &fakeProvider{closes: []float64{100, 101}, rate: 5}
	e := newEstimator(t, p, today)

	params, err := e.Estimate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidExpiry))
	assert.Equal(t, models.MarketParameters{}, params)
	assert.Equal(t, int32(0), p.historyCalls.Load())

	// A missing rate fails before the maturity check
	p = &fakeProvider{rateErr: errors.New("empty")}
	e = newEstimator(t, p, today)
	_, err = e.Estimate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}

func TestEstimateTimeout(t *testing.T) {
	p := &fakeProvider{closes: []float64{100, 101}, rate: 5, block: make(chan struct{})}
	e := newEstimator(t, p, today.AddDate(0, 1, 0), WithTimeout(20*time.Millisecond))

	_, err := e.Estimate(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTimeout), err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewValidates(t *testing.T) {
	_, err := New(models.OptionContract{Ticker: "AAPL", Strike: -1, Expiry: today}, &fakeProvider{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidParameter))

	_, err = New(contractExpiring(today.AddDate(0, 1, 0)), nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))

	_, err = New(contractExpiring(today.AddDate(0, 1, 0)), &fakeProvider{}, WithLookback(1))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))

	_, err = New(contractExpiring(today.AddDate(0, 1, 0)), &fakeProvider{}, WithLookback(MaxLookbackDays+1))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))

	e, err := New(contractExpiring(today.AddDate(0, 1, 0)), &fakeProvider{}, WithLookback(MaxLookbackDays))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, e.now().Location())
}

func TestBusinessDaysBefore(t *testing.T) {
	walk := func(t time.Time, n int) time.Time {
		d := truncate(t)
		for n > 0 {
			d = d.AddDate(0, 0, -1)
			if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
				n--
			}
		}
		return d
	}

	// one start date per weekday
	for i := 0; i < 7; i++ {
		from := time.Date(2026, 1, 5+i, 18, 0, 0, 0, time.UTC)
		for _, n := range []int{0, 1, 4, 5, 6, 10, 11, 252, 253, 1000} {
			assert.Equal(t, walk(from, n), businessDaysBefore(from, n), "%s n=%d", from.Weekday(), n)
		}
	}

	from := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(1977, 9, 23, 0, 0, 0, 0, time.UTC), businessDaysBefore(from, MaxLookbackDays))
}
