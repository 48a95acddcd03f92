// Package adapters turns configuration into the wired pipeline shared by the
// command-line pricer and the API service.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/rzzdr/option-valuation/config"
	"github.com/rzzdr/option-valuation/internal/market"
	"github.com/rzzdr/option-valuation/internal/pricing"
	"github.com/rzzdr/option-valuation/internal/store"
	"github.com/rzzdr/option-valuation/internal/valuation"
	"github.com/rzzdr/option-valuation/pkg/utils/circuit"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// NewProvider builds the fallback provider described by cfg. Fixtures are
// loaded once and shared when they serve both history and rates.
func NewProvider(cfg config.MarketDataConfig, recorder market.FetchRecorder) (*market.FallbackProvider, error) {
	log := logger.GetLogger("adapters.provider")

	var fixtures *store.FixtureStore
	loadFixtures := func() (*store.FixtureStore, error) {
		if fixtures != nil {
			return fixtures, nil
		}
		s, err := store.LoadFixtures(cfg.FixturesFile)
		if err != nil {
			return nil, apperrors.Wrap(err, fmt.Sprintf("failed to load fixtures %s", cfg.FixturesFile))
		}
		fixtures = s
		return s, nil
	}

	sources := make([]market.HistorySource, 0, len(cfg.HistorySources))
	for _, name := range cfg.HistorySources {
		switch name {
		case config.SourceYahoo:
			sources = append(sources, market.NewYahooSource(cfg.YahooBaseURL, cfg.RequestTimeout))
		case config.SourceFixtures:
			s, err := loadFixtures()
			if err != nil {
				return nil, err
			}
			sources = append(sources, s)
		default:
			return nil, apperrors.Configuration(fmt.Sprintf("unknown history source %q", name))
		}
	}

	var rate market.RateSource
	switch cfg.RateSource {
	case config.SourceFRED:
		rate = market.NewFREDSource(cfg.FREDBaseURL, cfg.FREDAPIKey, cfg.RateSeries, cfg.RequestTimeout)
	case config.SourceFixtures:
		s, err := loadFixtures()
		if err != nil {
			return nil, err
		}
		rate = s
	default:
		return nil, apperrors.Configuration(fmt.Sprintf("unknown rate source %q", cfg.RateSource))
	}

	breakerCfg := circuit.DefaultConfig()
	if cfg.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.BreakerTimeout
	}
	breakerCfg.IsFailure = isSourceFailure
	breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
		log.Warnf("Source %s breaker %s -> %s", name, from, to)
	}

	opts := []market.Option{market.WithBreakers(circuit.NewManager(breakerCfg))}
	if recorder != nil {
		opts = append(opts, market.WithRecorder(recorder))
	}

	log.Infof("History sources: %s; rate source: %s", strings.Join(cfg.HistorySources, ", "), cfg.RateSource)
	return market.NewFallbackProvider(sources, rate, opts...)
}

// isSourceFailure counts transport trouble against a source; a vendor that
// answers "no such ticker" is healthy
func isSourceFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return !apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable)
}

// ServiceSettings maps pricing configuration onto valuation defaults
func ServiceSettings(cfg config.PricingConfig) (valuation.Settings, error) {
	mode, err := pricing.ParseDividendMode(cfg.DividendMode)
	if err != nil {
		return valuation.Settings{}, err
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	s := valuation.DefaultSettings()
	s.LookbackDays = cfg.LookbackDays
	s.DividendYield = cfg.DividendYield
	if cfg.MaxTrials > 0 {
		s.MaxTrials = cfg.MaxTrials
	}
	s.EstimationTimeout = cfg.EstimationTimeout
	s.ParityTolerance = cfg.ParityTolerance
	s.MonteCarlo = pricing.MonteCarloConfig{
		Trials:       cfg.Trials,
		Workers:      workers,
		BlockSize:    cfg.BlockSize,
		Seed:         cfg.Seed,
		DividendMode: mode,
	}
	return s, s.Validate()
}
