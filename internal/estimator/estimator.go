package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rzzdr/option-valuation/internal/market"
	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
	"github.com/rzzdr/option-valuation/pkg/utils/pools"
)

const (
	// DefaultLookbackDays is one year of trading days
	DefaultLookbackDays = 252
	// DefaultTimeout bounds one estimation pass
	DefaultTimeout = 30 * time.Second
	// MaxLookbackDays is fifty years of trading days
	MaxLookbackDays = 50 * tradingDaysPerYear

	tradingDaysPerYear = 252
	daysPerYear        = 365.0
)

// Estimator turns contract terms and provider data into MarketParameters.
// One estimator serves one contract; the price series is fetched at most once.
type Estimator struct {
	contract     models.OptionContract
	provider     market.Provider
	lookback     int
	historyStart time.Time
	timeout      time.Duration
	now          func() time.Time
	log          *logger.Logger

	mu     sync.Mutex
	series *models.HistoricalSeries
}

// Option configures an Estimator
type Option func(*Estimator)

// WithLookback sets how many of the most recent observations feed the volatility
func WithLookback(days int) Option {
	return func(e *Estimator) {
		e.lookback = days
	}
}

// WithHistoryStart overrides the first date requested from the provider
func WithHistoryStart(start time.Time) Option {
	return func(e *Estimator) {
		e.historyStart = start
	}
}

// WithTimeout bounds Estimate
func WithTimeout(d time.Duration) Option {
	return func(e *Estimator) {
		e.timeout = d
	}
}

// WithClock sets the source of "today". Dates are taken in UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) {
		e.now = now
	}
}

// New creates an estimator for a contract
func New(contract models.OptionContract, provider market.Provider, opts ...Option) (*Estimator, error) {
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, apperrors.Configuration("a market data provider is required")
	}

	e := &Estimator{
		contract: contract,
		provider: provider,
		lookback: DefaultLookbackDays,
		timeout:  DefaultTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.GetLogger("estimator").WithField("ticker", contract.Ticker),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.lookback < 2 || e.lookback > MaxLookbackDays {
		return nil, apperrors.Configuration(fmt.Sprintf("lookback must be between 2 and %d days, got %d", MaxLookbackDays, e.lookback))
	}
	if e.timeout <= 0 {
		return nil, apperrors.Configuration(fmt.Sprintf("estimation timeout must be positive, got %s", e.timeout))
	}
	return e, nil
}

// Contract returns the contract being estimated
func (e *Estimator) Contract() models.OptionContract {
	return e.contract
}

// Estimate runs the full pipeline: rate, maturity, volatility, spot. The first
// failure aborts the pass and no parameters are returned.
func (e *Estimator) Estimate(ctx context.Context) (models.MarketParameters, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params, err := e.estimate(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
			err = apperrors.WithType(err, apperrors.ErrorTypeTimeout)
		}
		e.log.Warnf("Estimation aborted: %v", err)
		return models.MarketParameters{}, err
	}

	e.log.Infof("Estimated parameters: spot=%.4f volatility=%.6f rate=%.6f maturity=%.6f",
		params.Spot, params.Volatility, params.RiskFreeRate, params.TimeToMaturity)
	return params, nil
}

func (e *Estimator) estimate(ctx context.Context) (models.MarketParameters, error) {
	today := e.now()

	rate, err := e.RiskFreeRate(ctx)
	if err != nil {
		return models.MarketParameters{}, err
	}
	maturity, err := e.TimeToMaturity(today)
	if err != nil {
		return models.MarketParameters{}, err
	}
	vol, err := e.Volatility(ctx)
	if err != nil {
		return models.MarketParameters{}, err
	}
	spot, err := e.SpotPrice(ctx)
	if err != nil {
		return models.MarketParameters{}, err
	}

	return models.MarketParameters{
		Spot:           spot,
		Volatility:     vol,
		RiskFreeRate:   rate,
		TimeToMaturity: maturity,
		EstimatedAt:    today,
	}, nil
}

// TimeToMaturity is the number of whole calendar days from today to expiry
// divided by 365
func (e *Estimator) TimeToMaturity(today time.Time) (float64, error) {
	days := int(truncate(e.contract.Expiry).Sub(truncate(today)).Hours() / 24)
	if days <= 0 {
		return 0, apperrors.InvalidExpiry(fmt.Sprintf("expiry %s is not after %s",
			e.contract.Expiry.Format(time.DateOnly), today.Format(time.DateOnly)))
	}
	return float64(days) / daysPerYear, nil
}

// RiskFreeRate converts the provider's latest percent quote to a decimal
func (e *Estimator) RiskFreeRate(ctx context.Context) (float64, error) {
	percent, err := e.provider.FetchShortTermRate(ctx)
	if err != nil {
		return 0, asDataUnavailable(err, "risk-free rate")
	}
	return percent / 100, nil
}

// Volatility estimates annualized volatility from the cached series
func (e *Estimator) Volatility(ctx context.Context) (float64, error) {
	series, err := e.Series(ctx)
	if err != nil {
		return 0, err
	}
	return EstimateVolatility(series, e.lookback)
}

// SpotPrice is the last close of the cached series
func (e *Estimator) SpotPrice(ctx context.Context) (float64, error) {
	series, err := e.Series(ctx)
	if err != nil {
		return 0, err
	}
	return EstimateSpotPrice(series)
}

// Series returns the price history, fetching it on first use. Concurrent first
// calls share one fetch; a failed fetch is not cached.
func (e *Estimator) Series(ctx context.Context) (models.HistoricalSeries, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.series != nil {
		return *e.series, nil
	}

	start := e.historyStart
	if start.IsZero() {
		start = businessDaysBefore(e.now(), e.lookback)
	}

	e.log.Debugf("Fetching price history from %s", start.Format(time.DateOnly))
	series, err := e.provider.FetchPriceHistory(ctx, e.contract.Ticker, start, nil)
	if err != nil {
		return models.HistoricalSeries{}, asDataUnavailable(err, "price history")
	}
	if series.Len() == 0 {
		return models.HistoricalSeries{}, apperrors.DataUnavailable(
			fmt.Sprintf("provider returned no price history for %s", e.contract.Ticker))
	}

	e.series = &series
	return series, nil
}

// EstimateVolatility annualizes the sample standard deviation of the log
// returns of the most recent lookback closes
func EstimateVolatility(series models.HistoricalSeries, lookback int) (float64, error) {
	closes := series.Closes()
	if lookback > 0 && len(closes) > lookback {
		closes = closes[len(closes)-lookback:]
	}
	if len(closes) < 2 {
		return 0, apperrors.DataUnavailable(
			fmt.Sprintf("need at least 2 observations to estimate volatility, got %d", len(closes)))
	}

	returns := pools.Float64s.Get(len(closes) - 1)[:len(closes)-1]
	defer pools.Float64s.Put(returns)
	constant := true
	for i := 1; i < len(closes); i++ {
		returns[i-1] = math.Log(closes[i] / closes[i-1])
		if returns[i-1] != returns[0] {
			constant = false
		}
	}

	var vol float64
	if !constant {
		vol = sampleStdDev(returns) * math.Sqrt(tradingDaysPerYear)
	} else if len(returns) < 2 {
		vol = math.NaN()
	}
	if math.IsNaN(vol) || math.IsInf(vol, 0) || math.IsNaN(returns[0]) || math.IsInf(returns[0], 0) {
		return 0, apperrors.InvalidParameter(
			fmt.Sprintf("volatility of %s is not finite; the series has non-positive prices or too few returns", series.Ticker))
	}
	return vol, nil
}

// EstimateSpotPrice returns the most recent close
func EstimateSpotPrice(series models.HistoricalSeries) (float64, error) {
	last, ok := series.Last()
	if !ok {
		return 0, apperrors.DataUnavailable(fmt.Sprintf("no observations for %s", series.Ticker))
	}
	if !(last.Close > 0) || math.IsInf(last.Close, 0) {
		return 0, apperrors.InvalidParameter(fmt.Sprintf("last close of %s is not a positive price: %v", series.Ticker, last.Close))
	}
	return last.Close, nil
}

func sampleStdDev(xs []float64) float64 {
	n := float64(len(xs))
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= n

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / (n - 1))
}

// asDataUnavailable keeps typed provider errors and marks untyped ones
func asDataUnavailable(err error, what string) error {
	if apperrors.TypeOf(err) == apperrors.ErrorTypeUnknown {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.WithType(err, apperrors.ErrorTypeTimeout)
		}
		err = apperrors.WithType(err, apperrors.ErrorTypeDataUnavailable)
	}
	return apperrors.Wrap(err, fmt.Sprintf("fetching %s", what))
}

// truncate returns the UTC calendar date of t
func truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// businessDaysBefore steps back n weekdays from t. Every 7 calendar days hold
// exactly 5 weekdays, so only the last week is walked.
func businessDaysBefore(t time.Time, n int) time.Time {
	d := truncate(t)
	if n <= 0 {
		return d
	}
	weeks := (n - 1) / 5
	d = d.AddDate(0, 0, -7*weeks)
	n -= 5 * weeks
	for n > 0 {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return d
}
