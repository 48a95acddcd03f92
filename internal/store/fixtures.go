package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// FixtureStore is an in-memory history and rate store, usually loaded from a
// YAML file for offline runs and tests
type FixtureStore struct {
	series map[string][]models.PricePoint
	rate   *float64
	mu     sync.RWMutex
	log    *logger.Logger
}

type fixtureFile struct {
	Rate   *float64                  `yaml:"rate"`
	Series map[string][]fixturePoint `yaml:"series"`
}

type fixturePoint struct {
	Date  string  `yaml:"date"`
	Close float64 `yaml:"close"`
}

// NewFixtureStore creates an empty store
func NewFixtureStore() *FixtureStore {
	return &FixtureStore{
		series: make(map[string][]models.PricePoint),
		log:    logger.GetLogger("store.fixtures"),
	}
}

// LoadFixtures reads a fixtures file:
//
//	rate: 5.21
//	series:
//	  AAPL:
//	    - {date: 2026-01-05, close: 243.1}
func LoadFixtures(path string) (*FixtureStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.WithType(err, apperrors.ErrorTypeConfiguration)
	}
	return ParseFixtures(raw)
}

// ParseFixtures decodes fixtures from YAML
func ParseFixtures(raw []byte) (*FixtureStore, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeConfiguration), "invalid fixtures file")
	}

	s := NewFixtureStore()
	if file.Rate != nil {
		s.SetRate(*file.Rate)
	}
	for ticker, raw := range file.Series {
		points := make([]models.PricePoint, 0, len(raw))
		for _, p := range raw {
			date, err := time.Parse(time.DateOnly, p.Date)
			if err != nil {
				return nil, apperrors.Configuration(fmt.Sprintf("fixtures: %s: bad date %q", ticker, p.Date))
			}
			points = append(points, models.PricePoint{Date: date, Close: p.Close})
		}
		s.Put(ticker, points)
	}
	s.log.Infof("Loaded fixtures for %d tickers", len(file.Series))
	return s, nil
}

// Put replaces the series of a ticker
func (s *FixtureStore) Put(ticker string, points []models.PricePoint) {
	sorted := make([]models.PricePoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[strings.ToUpper(ticker)] = sorted
}

// SetRate sets the short-term rate in percent
func (s *FixtureStore) SetRate(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = &percent
}

// Tickers lists the stored tickers
func (s *FixtureStore) Tickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickers := make([]string, 0, len(s.series))
	for t := range s.series {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// Name identifies the store as a data source
func (s *FixtureStore) Name() string {
	return "fixtures"
}

// FetchHistory returns the stored closes dated within [start, end]. An
// unknown ticker yields an empty series.
func (s *FixtureStore) FetchHistory(_ context.Context, ticker string, start, end time.Time) (models.HistoricalSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to := truncate(start), truncate(end)
	series := models.HistoricalSeries{Ticker: ticker, Source: s.Name()}
	for _, p := range s.series[strings.ToUpper(ticker)] {
		d := truncate(p.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		series.Points = append(series.Points, p)
	}
	return series, nil
}

// LatestRate returns the stored rate in percent
func (s *FixtureStore) LatestRate(context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.rate == nil {
		return 0, apperrors.DataUnavailable("fixtures: no rate configured")
	}
	return *s.rate, nil
}

func truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
