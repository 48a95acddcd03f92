// Package valuation runs the estimate, price, check and publish pipeline
// shared by the CLI, the HTTP API and the Kafka request consumer.
package valuation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rzzdr/option-valuation/internal/estimator"
	"github.com/rzzdr/option-valuation/internal/market"
	"github.com/rzzdr/option-valuation/internal/pricing"
	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// Publisher receives every successful valuation
type Publisher interface {
	Name() string
	PublishValuation(ctx context.Context, v models.Valuation) error
}

// Recorder receives pipeline metrics. *metrics.Recorder satisfies it.
type Recorder interface {
	RecordValuation(model, outcome string, latency time.Duration)
	RecordEstimation(outcome string, latency time.Duration)
	RecordSimulationTrials(model string, trials int)
	RecordParity(holds bool)
	RecordPublish(sink, outcome string)
}

// DefaultMaxTrials bounds the trials a single request may ask for
const DefaultMaxTrials = 10_000_000

// Settings are the defaults applied to requests that leave a field unset
type Settings struct {
	LookbackDays      int
	DividendYield     float64
	EstimationTimeout time.Duration
	MonteCarlo        pricing.MonteCarloConfig
	MaxTrials         int
	ParityTolerance   *float64
	PublishTimeout    time.Duration
}

// DefaultSettings returns the defaults used by the CLI and the API
func DefaultSettings() Settings {
	return Settings{
		LookbackDays:      estimator.DefaultLookbackDays,
		EstimationTimeout: estimator.DefaultTimeout,
		MonteCarlo:        pricing.DefaultMonteCarloConfig(),
		MaxTrials:         DefaultMaxTrials,
		PublishTimeout:    5 * time.Second,
	}
}

// Validate checks the settings
func (s Settings) Validate() error {
	if s.LookbackDays < 2 || s.LookbackDays > estimator.MaxLookbackDays {
		return apperrors.Configuration(fmt.Sprintf("lookback must be between 2 and %d observations, got %d",
			estimator.MaxLookbackDays, s.LookbackDays))
	}
	if !(s.DividendYield >= 0) || math.IsInf(s.DividendYield, 0) {
		return apperrors.Configuration(fmt.Sprintf("dividend yield must be >= 0, got %v", s.DividendYield))
	}
	if s.MaxTrials < s.MonteCarlo.Trials {
		return apperrors.Configuration(fmt.Sprintf("max trials %d is below the default of %d", s.MaxTrials, s.MonteCarlo.Trials))
	}
	if s.EstimationTimeout <= 0 {
		return apperrors.Configuration("estimation timeout must be positive")
	}
	if s.PublishTimeout <= 0 {
		return apperrors.Configuration("publish timeout must be positive")
	}
	return s.MonteCarlo.Validate()
}

// Service values option contracts
type Service struct {
	provider   market.Provider
	settings   Settings
	publishers []Publisher
	recorder   Recorder
	now        func() time.Time
	analytic   *pricing.AnalyticEngine
	log        *logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithPublishers adds valuation sinks
func WithPublishers(p ...Publisher) Option {
	return func(s *Service) {
		s.publishers = append(s.publishers, p...)
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithClock overrides the valuation date source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a valuation service
func NewService(provider market.Provider, settings Settings, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, apperrors.Configuration("valuation: a market data provider is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		provider: provider,
		settings: settings,
		recorder: nopRecorder{},
		now:      func() time.Time { return time.Now().UTC() },
		analytic: pricing.NewAnalyticEngine(),
		log:      logger.GetLogger("valuation.service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settings returns the service defaults
func (s *Service) Settings() Settings {
	return s.settings
}

// ValueModels estimates market parameters once and prices the contract with
// every requested model
func (s *Service) ValueModels(ctx context.Context, req models.ValuationRequest) ([]models.Valuation, error) {
	req.DividendYield = s.dividendYield(req.DividendYield)
	contract, err := req.Contract()
	if err != nil {
		return nil, err
	}
	requested, err := req.Models()
	if err != nil {
		return nil, err
	}
	mc, err := s.monteCarloConfig(req.Trials, req.Seed)
	if err != nil {
		return nil, err
	}

	est, err := s.newEstimator(contract, req)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	params, err := est.Estimate(ctx)
	s.recorder.RecordEstimation(outcome(err), time.Since(began))
	if err != nil {
		return nil, err
	}

	valuations := make([]models.Valuation, 0, len(requested))
	for _, model := range requested {
		v, err := s.price(ctx, model, mc, contract, params, req.CheckParity)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, v)
		valuations = append(valuations, v)
	}
	return valuations, nil
}

// Value prices a contract with a single model
func (s *Service) Value(ctx context.Context, req models.ValuationRequest) (models.Valuation, error) {
	if strings.EqualFold(strings.TrimSpace(req.Model), models.ModelBoth) {
		return models.Valuation{}, apperrors.Configuration("Value prices one model; use ValueModels for \"both\"")
	}
	out, err := s.ValueModels(ctx, req)
	if err != nil {
		return models.Valuation{}, err
	}
	return out[0], nil
}

// PriceExplicit prices from caller-supplied parameters without fetching data.
// Results are not published.
func (s *Service) PriceExplicit(ctx context.Context, req models.PriceRequest) ([]models.Valuation, error) {
	now := s.now()
	req.DividendYield = s.dividendYield(req.DividendYield)
	contract, err := req.Contract(now)
	if err != nil {
		return nil, err
	}
	requested, err := req.Models()
	if err != nil {
		return nil, err
	}
	mc, err := s.monteCarloConfig(req.Trials, req.Seed)
	if err != nil {
		return nil, err
	}

	params := req.Parameters(now)
	valuations := make([]models.Valuation, 0, len(requested))
	for _, model := range requested {
		v, err := s.price(ctx, model, mc, contract, params, req.CheckParity)
		if err != nil {
			return nil, err
		}
		valuations = append(valuations, v)
	}
	return valuations, nil
}

// Greeks computes analytic sensitivities from explicit parameters
func (s *Service) Greeks(req models.PriceRequest) (models.OptionGreeks, error) {
	now := s.now()
	req.DividendYield = s.dividendYield(req.DividendYield)
	contract, err := req.Contract(now)
	if err != nil {
		return models.OptionGreeks{}, err
	}
	return s.analytic.Greeks(contract, req.Parameters(now))
}

func (s *Service) price(ctx context.Context, model models.PricingModel, mc pricing.MonteCarloConfig,
	contract models.OptionContract, params models.MarketParameters, checkParity bool) (models.Valuation, error) {
	engine, err := pricing.NewEngine(model, mc)
	if err != nil {
		return models.Valuation{}, err
	}

	began := time.Now()
	quote, err := engine.Price(ctx, contract, params)
	elapsed := time.Since(began)
	s.recorder.RecordValuation(string(model), outcome(err), elapsed)
	if err != nil {
		s.log.Warnf("%s pricing of %s failed: %v", model, contract.Ticker, err)
		return models.Valuation{}, err
	}
	if quote.Trials > 0 {
		s.recorder.RecordSimulationTrials(string(model), quote.Trials)
	}

	v := models.Valuation{
		ID:            uuid.NewString(),
		Contract:      contract,
		Parameters:    params,
		Quote:         quote,
		EarlyExercise: false,
		Duration:      elapsed,
		CreatedAt:     s.now(),
	}

	if checkParity {
		checker := s.parityChecker(mc.DividendMode)
		result := checker.Evaluate(quote.Call, quote.Put, contract, params)
		s.recorder.RecordParity(result.Holds)
		v.Parity = &result
	}

	s.log.Infof("Valued %s K=%.2f with %s: call=%.4f put=%.4f in %s",
		contract.Ticker, contract.Strike, model, quote.Call, quote.Put, elapsed)
	return v, nil
}

// publish never fails the valuation; sink errors are logged and counted
func (s *Service) publish(ctx context.Context, v models.Valuation) {
	for _, p := range s.publishers {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.PublishTimeout)
		err := p.PublishValuation(pctx, v)
		cancel()

		if err != nil {
			s.log.Errorf("Failed to publish valuation %s to %s: %v", v.ID, p.Name(), err)
			s.recorder.RecordPublish(p.Name(), "error")
			continue
		}
		s.recorder.RecordPublish(p.Name(), "success")
	}
}

func (s *Service) newEstimator(contract models.OptionContract, req models.ValuationRequest) (*estimator.Estimator, error) {
	lookback := s.settings.LookbackDays
	if req.LookbackDays != 0 {
		lookback = req.LookbackDays
	}

	opts := []estimator.Option{
		estimator.WithLookback(lookback),
		estimator.WithTimeout(s.settings.EstimationTimeout),
		estimator.WithClock(s.now),
	}
	if req.HistoryStart != "" {
		start, err := models.ParseDate(req.HistoryStart)
		if err != nil {
			return nil, apperrors.Configuration(fmt.Sprintf("invalid history_start %q: want YYYY-MM-DD", req.HistoryStart))
		}
		opts = append(opts, estimator.WithHistoryStart(start))
	}
	return estimator.New(contract, s.provider, opts...)
}

func (s *Service) monteCarloConfig(trials int, seed *uint64) (pricing.MonteCarloConfig, error) {
	mc := s.settings.MonteCarlo
	if trials > s.settings.MaxTrials {
		return mc, apperrors.Configuration(fmt.Sprintf("trials must not exceed %d, got %d", s.settings.MaxTrials, trials))
	}
	if trials != 0 {
		mc.Trials = trials
	}
	if seed != nil {
		mc.Seed = seed
	}
	return mc, mc.Validate()
}

// dividendYield returns the request's yield, or the configured one when unset
func (s *Service) dividendYield(requested *float64) *float64 {
	if requested != nil {
		return requested
	}
	q := s.settings.DividendYield
	return &q
}

func (s *Service) parityChecker(mode pricing.DividendMode) *pricing.ParityChecker {
	opts := []pricing.ParityOption{pricing.WithDividendMode(mode)}
	if s.settings.ParityTolerance != nil {
		opts = append(opts, pricing.WithTolerance(*s.settings.ParityTolerance))
	}
	return pricing.NewParityChecker(opts...)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperrors.TypeOf(err).String()
}

type nopRecorder struct{}

func (nopRecorder) RecordValuation(string, string, time.Duration) {}
func (nopRecorder) RecordEstimation(string, time.Duration)        {}
func (nopRecorder) RecordSimulationTrials(string, int)            {}
func (nopRecorder) RecordParity(bool)                             {}
func (nopRecorder) RecordPublish(string, string)                  {}
