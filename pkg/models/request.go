package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

// ModelBoth asks for one valuation per engine
const ModelBoth = "both"

// ValuationRequest is the wire form of a valuation job, shared by the HTTP
// API and the Kafka request topic. Zero optional fields take service defaults.
type ValuationRequest struct {
	Ticker        string   `json:"ticker" binding:"required"`
	Strike        float64  `json:"strike"`
	Expiry        string   `json:"expiry" binding:"required"` // YYYY-MM-DD
	DividendYield *float64 `json:"dividend_yield,omitempty"`  // nil takes the configured yield
	Model         string   `json:"model"`
	Trials        int      `json:"trials,omitempty"`
	Seed          *uint64  `json:"seed,omitempty"`
	LookbackDays  int      `json:"lookback_days,omitempty"`
	HistoryStart  string   `json:"history_start,omitempty"` // YYYY-MM-DD
	CheckParity   bool     `json:"check_parity"`
}

// Contract parses the contract terms
func (r ValuationRequest) Contract() (OptionContract, error) {
	expiry, err := ParseDate(r.Expiry)
	if err != nil {
		return OptionContract{}, apperrors.InvalidExpiry(fmt.Sprintf("invalid expiry %q: want YYYY-MM-DD", r.Expiry))
	}
	contract := OptionContract{
		Ticker:        strings.ToUpper(strings.TrimSpace(r.Ticker)),
		Strike:        r.Strike,
		Expiry:        expiry,
		DividendYield: valueOrZero(r.DividendYield),
	}
	return contract, contract.Validate()
}

// Models resolves the requested model names
func (r ValuationRequest) Models() ([]PricingModel, error) {
	if strings.EqualFold(strings.TrimSpace(r.Model), ModelBoth) {
		return []PricingModel{ModelAnalytic, ModelMonteCarlo}, nil
	}
	m, err := ParseModel(r.Model)
	if err != nil {
		return nil, err
	}
	return []PricingModel{m}, nil
}

// ParseDate parses a YYYY-MM-DD date in UTC
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(s))
}

// PriceRequest prices from caller-supplied market parameters; nothing is
// fetched
type PriceRequest struct {
	Ticker         string   `json:"ticker"`
	Strike         float64  `json:"strike"`
	DividendYield  *float64 `json:"dividend_yield,omitempty"`
	Spot           float64  `json:"spot"`
	Volatility     float64  `json:"volatility"`
	RiskFreeRate   float64  `json:"risk_free_rate"`
	TimeToMaturity float64  `json:"time_to_maturity"` // years
	Model          string   `json:"model"`
	Trials         int      `json:"trials,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
	CheckParity    bool     `json:"check_parity"`
}

// Parameters returns the explicit market parameters
func (r PriceRequest) Parameters(now time.Time) MarketParameters {
	return MarketParameters{
		Spot:           r.Spot,
		Volatility:     r.Volatility,
		RiskFreeRate:   r.RiskFreeRate,
		TimeToMaturity: r.TimeToMaturity,
		EstimatedAt:    now,
	}
}

// Contract builds a contract whose expiry is TimeToMaturity years after now
func (r PriceRequest) Contract(now time.Time) (OptionContract, error) {
	ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
	if ticker == "" {
		ticker = "CUSTOM"
	}
	contract := OptionContract{
		Ticker:        ticker,
		Strike:        r.Strike,
		DividendYield: valueOrZero(r.DividendYield),
	}
	// upper bound keeps the derived expiry inside time.Time's range
	if !(r.TimeToMaturity > 0) || r.TimeToMaturity > 1000 {
		return contract, apperrors.InvalidParameter(fmt.Sprintf("time to maturity must be in (0, 1000] years, got %v", r.TimeToMaturity))
	}
	days := max(1, int(math.Round(r.TimeToMaturity*365)))
	contract.Expiry = now.UTC().Truncate(24*time.Hour).AddDate(0, 0, days)
	return contract, contract.Validate()
}

// Models resolves the requested model names
func (r PriceRequest) Models() ([]PricingModel, error) {
	return ValuationRequest{Model: r.Model}.Models()
}


func valueOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
