package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/option-valuation/pkg/models"
	"github.com/rzzdr/option-valuation/pkg/utils/circuit"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

func init() {
	logger.SetOutput(io.Discard, "error")
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeHistory struct {
	name   string
	series models.HistoricalSeries
	err    error
	calls  int
}

func (f *fakeHistory) Name() string { return f.name }

func (f *fakeHistory) FetchHistory(_ context.Context, ticker string, _, _ time.Time) (models.HistoricalSeries, error) {
	f.calls++
	if f.err != nil {
		return models.HistoricalSeries{}, f.err
	}
	s := f.series
	s.Ticker = ticker
	return s, nil
}

type fakeRate struct {
	rate float64
	err  error
}

func (f *fakeRate) Name() string { return "rate" }

func (f *fakeRate) LatestRate(context.Context) (float64, error) { return f.rate, f.err }

type fetchLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *fetchLog) RecordFetch(source, outcome string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, source+":"+outcome)
}

func TestFallbackProviderPrefersFirstNonEmpty(t *testing.T) {
	failing := &fakeHistory{name: "primary", err: errors.New("connection refused")}
	empty := &fakeHistory{name: "secondary"}
	good := &fakeHistory{name: "tertiary", series: models.HistoricalSeries{Points: []models.PricePoint{
		{Date: day(2026, 1, 6), Close: 101},
		{Date: day(2026, 1, 5), Close: 100},
	}}}
	unused := &fakeHistory{name: "unused"}
	recorder := &fetchLog{}

	p, err := NewFallbackProvider([]HistorySource{failing, empty, good, unused}, &fakeRate{rate: 5}, WithRecorder(recorder))
	require.NoError(t, err)

	end := day(2026, 1, 7)
	series, err := p.FetchPriceHistory(context.Background(), "AAPL", day(2026, 1, 1), &end)
	require.NoError(t, err)

	assert.Equal(t, "tertiary", series.Source)
	assert.Equal(t, "AAPL", series.Ticker)
	require.Equal(t, 2, series.Len())
	assert.True(t, series.Points[0].Date.Before(series.Points[1].Date), "points are sorted ascending")
	assert.Equal(t, 0, unused.calls)
	assert.Equal(t, []string{"primary:error", "secondary:empty", "tertiary:success"}, recorder.entries)
}

func TestFallbackProviderAllSourcesFail(t *testing.T) {
	p, err := NewFallbackProvider([]HistorySource{
		&fakeHistory{name: "yahoo", err: errors.New("boom")},
		&fakeHistory{name: "fixtures"},
	}, &fakeRate{})
	require.NoError(t, err)

	_, err = p.FetchPriceHistory(context.Background(), "MSFT", day(2026, 1, 1), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
	assert.Contains(t, err.Error(), "yahoo: boom")
	assert.Contains(t, err.Error(), "fixtures: no data")
}

func TestFallbackProviderSkipsOpenBreaker(t *testing.T) {
	flaky := &fakeHistory{name: "flaky", err: errors.New("503")}
	backup := &fakeHistory{name: "backup", series: models.HistoricalSeries{Points: []models.PricePoint{{Date: day(2026, 1, 5), Close: 10}}}}
	breakers := circuit.NewManager(circuit.Config{MaxFailures: 1, Timeout: time.Hour})

	p, err := NewFallbackProvider([]HistorySource{flaky, backup}, &fakeRate{}, WithBreakers(breakers))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		series, err := p.FetchPriceHistory(context.Background(), "SPY", day(2026, 1, 1), nil)
		require.NoError(t, err)
		assert.Equal(t, "backup", series.Source)
	}
	assert.Equal(t, 1, flaky.calls, "open breaker short-circuits the flaky source")
	assert.Equal(t, circuit.StateOpen, breakers.GetBreaker("flaky").State())
}

func TestFallbackProviderRate(t *testing.T) {
	p, err := NewFallbackProvider([]HistorySource{&fakeHistory{name: "h"}}, &fakeRate{rate: 5.21})
	require.NoError(t, err)
	rate, err := p.FetchShortTermRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.21, rate)

	p, err = NewFallbackProvider([]HistorySource{&fakeHistory{name: "h"}}, &fakeRate{err: errors.New("down")})
	require.NoError(t, err)
	_, err = p.FetchShortTermRate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}

func TestNewFallbackProviderRequiresSources(t *testing.T) {
	_, err := NewFallbackProvider(nil, &fakeRate{})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))

	_, err = NewFallbackProvider([]HistorySource{&fakeHistory{name: "h"}}, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

const chartBody = `{"chart":{"result":[{"timestamp":[1767623400,1767709800,1767796200],
"indicators":{"quote":[{"close":[100.5,null,102.25]}],"adjclose":[{"adjclose":[100.0,null,102.0]}]}}],"error":null}}`

func TestYahooSource(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chartBody)
	}))
	defer srv.Close()

	src := NewYahooSource(srv.URL, time.Second)
	series, err := src.FetchHistory(context.Background(), "AAPL", day(2026, 1, 1), day(2026, 1, 8))
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1d", gotInterval)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, 100.0, series.Points[0].Close)
	assert.Equal(t, day(2026, 1, 5), series.Points[0].Date)
	assert.Equal(t, 102.0, series.Points[1].Close)
}

func TestYahooSourceKeepsNonPositiveCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"chart":{"result":[{"timestamp":[1767623400,1767709800,1767796200],
"indicators":{"quote":[{"close":[100.5,0,-1]}]}}],"error":null}}`)
	}))
	defer srv.Close()

	series, err := NewYahooSource(srv.URL, time.Second).FetchHistory(context.Background(), "AAPL", day(2026, 1, 1), day(2026, 1, 8))
	require.NoError(t, err)
	assert.Equal(t, []float64{100.5, 0, -1}, series.Closes())
}

func TestYahooSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
	}))
	defer srv.Close()

	_, err := NewYahooSource(srv.URL, time.Second).FetchHistory(context.Background(), "NOPE", day(2026, 1, 1), day(2026, 1, 8))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}

func TestYahooSourceServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewYahooSource(srv.URL, time.Second).FetchHistory(context.Background(), "AAPL", day(2026, 1, 1), day(2026, 1, 8))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
}

func TestFREDSourceSkipsMissingValues(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"series_id":  r.URL.Query().Get("series_id"),
			"api_key":    r.URL.Query().Get("api_key"),
			"sort_order": r.URL.Query().Get("sort_order"),
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"observations":[{"date":"2026-01-09","value":"."},{"date":"2026-01-08","value":"3.62"}]}`)
	}))
	defer srv.Close()

	rate, err := NewFREDSource(srv.URL, "key", "", time.Second).LatestRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.62, rate)
	assert.Equal(t, map[string]string{"series_id": "DTB3", "api_key": "key", "sort_order": "desc"}, query)
}

func TestFREDSourceNoObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"observations":[]}`)
	}))
	defer srv.Close()

	_, err := NewFREDSource(srv.URL, "key", "DGS1MO", time.Second).LatestRate(context.Background())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeDataUnavailable))
}
