package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/circuit"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// Provider supplies the raw market data the estimator consumes
type Provider interface {
	// FetchPriceHistory returns daily closes in ascending date order. A nil
	// end means today.
	FetchPriceHistory(ctx context.Context, ticker string, start time.Time, end *time.Time) (models.HistoricalSeries, error)
	// FetchShortTermRate returns the latest short-term rate in percent
	FetchShortTermRate(ctx context.Context) (float64, error)
}

// HistorySource is one vendor of daily close prices
type HistorySource interface {
	Name() string
	FetchHistory(ctx context.Context, ticker string, start, end time.Time) (models.HistoricalSeries, error)
}

// RateSource is a vendor of short-term interest rate quotes
type RateSource interface {
	Name() string
	LatestRate(ctx context.Context) (float64, error)
}

// FetchRecorder observes every source call
type FetchRecorder interface {
	RecordFetch(source, outcome string, elapsed time.Duration)
}

// Fetch outcomes reported to the FetchRecorder
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// FallbackProvider tries history sources in preference order and returns the
// first non-empty series
type FallbackProvider struct {
	sources  []HistorySource
	rate     RateSource
	breakers *circuit.Manager
	recorder FetchRecorder
	now      func() time.Time
	log      *logger.Logger
}

// Option configures a FallbackProvider
type Option func(*FallbackProvider)

// WithBreakers shares a breaker manager, e.g. with the health endpoint
func WithBreakers(m *circuit.Manager) Option {
	return func(p *FallbackProvider) {
		p.breakers = m
	}
}

// WithRecorder reports every source call
func WithRecorder(r FetchRecorder) Option {
	return func(p *FallbackProvider) {
		p.recorder = r
	}
}

// WithClock overrides the clock used to default the end date
func WithClock(now func() time.Time) Option {
	return func(p *FallbackProvider) {
		p.now = now
	}
}

// NewFallbackProvider creates a provider over the given sources
func NewFallbackProvider(sources []HistorySource, rate RateSource, opts ...Option) (*FallbackProvider, error) {
	if len(sources) == 0 {
		return nil, apperrors.Configuration("at least one history source is required")
	}
	if rate == nil {
		return nil, apperrors.Configuration("a rate source is required")
	}

	p := &FallbackProvider{
		sources: sources,
		rate:    rate,
		now:     time.Now,
		log:     logger.GetLogger("market.provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breakers == nil {
		p.breakers = circuit.NewManager(circuit.DefaultConfig())
	}
	return p, nil
}

// Breakers returns the breaker manager guarding the sources
func (p *FallbackProvider) Breakers() *circuit.Manager {
	return p.breakers
}

// FetchPriceHistory implements Provider
func (p *FallbackProvider) FetchPriceHistory(ctx context.Context, ticker string, start time.Time, end *time.Time) (models.HistoricalSeries, error) {
	to := p.now()
	if end != nil {
		to = *end
	}
	if to.Before(start) {
		return models.HistoricalSeries{}, apperrors.InvalidParameter(
			fmt.Sprintf("history end %s is before start %s", to.Format(time.DateOnly), start.Format(time.DateOnly)))
	}

	var failures []string
	for _, source := range p.sources {
		if err := ctx.Err(); err != nil {
			return models.HistoricalSeries{}, apperrors.WithType(err, apperrors.ErrorTypeTimeout)
		}

		p.log.Infof("Fetching data for ticker=%s from source=%s", ticker, source.Name())
		began := time.Now()
		series, err := circuit.Execute(ctx, p.breakers.GetBreaker(source.Name()),
			func(ctx context.Context) (models.HistoricalSeries, error) {
				return source.FetchHistory(ctx, ticker, start, to)
			})

		switch {
		case err != nil:
			p.record(source.Name(), OutcomeError, began)
			p.log.Warnf("Received error from source=%s for ticker=%s: %v", source.Name(), ticker, err)
			failures = append(failures, fmt.Sprintf("%s: %v", source.Name(), err))
		case series.Len() == 0:
			p.record(source.Name(), OutcomeEmpty, began)
			p.log.Warnf("Source=%s returned no data for ticker=%s", source.Name(), ticker)
			failures = append(failures, fmt.Sprintf("%s: no data", source.Name()))
		default:
			p.record(source.Name(), OutcomeSuccess, began)
			series.Ticker = ticker
			series.Source = source.Name()
			sort.SliceStable(series.Points, func(i, j int) bool {
				return series.Points[i].Date.Before(series.Points[j].Date)
			})
			p.log.Infof("Fetched %d observations for ticker=%s from source=%s", series.Len(), ticker, source.Name())
			return series, nil
		}
	}

	return models.HistoricalSeries{}, apperrors.DataUnavailable(
		fmt.Sprintf("no price history for %s from any source (%s)", ticker, strings.Join(failures, "; ")))
}

// FetchShortTermRate implements Provider
func (p *FallbackProvider) FetchShortTermRate(ctx context.Context) (float64, error) {
	began := time.Now()
	rate, err := circuit.Execute(ctx, p.breakers.GetBreaker(p.rate.Name()), p.rate.LatestRate)
	if err != nil {
		p.record(p.rate.Name(), OutcomeError, began)
		p.log.Errorf("Unable to get short-term rate from source=%s: %v", p.rate.Name(), err)
		if apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
			return 0, err
		}
		return 0, apperrors.WithType(err, apperrors.ErrorTypeDataUnavailable)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		p.record(p.rate.Name(), OutcomeEmpty, began)
		return 0, apperrors.DataUnavailable(fmt.Sprintf("source %s returned a non-finite rate", p.rate.Name()))
	}

	p.record(p.rate.Name(), OutcomeSuccess, began)
	return rate, nil
}

func (p *FallbackProvider) record(source, outcome string, began time.Time) {
	if p.recorder != nil {
		p.recorder.RecordFetch(source, outcome, time.Since(began))
	}
}
