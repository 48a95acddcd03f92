package market

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

// DefaultYahooBaseURL is the public chart endpoint host
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooSource reads daily closes from the Yahoo Finance chart API
type YahooSource struct {
	client *resty.Client
}

// NewYahooSource creates a chart client. An empty baseURL uses the public host.
func NewYahooSource(baseURL string, timeout time.Duration) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	return &YahooSource{client: newRestClient(baseURL, timeout)}
}

// Name implements HistorySource
func (y *YahooSource) Name() string {
	return "yahoo"
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchHistory implements HistorySource. Adjusted closes are preferred when
// the response carries them; null entries (halts, holidays) are skipped.
// Non-positive closes are kept for the estimator to reject.
func (y *YahooSource) FetchHistory(ctx context.Context, ticker string, start, end time.Time) (models.HistoricalSeries, error) {
	var body chartResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetPathParam("ticker", ticker).
		SetQueryParams(map[string]string{
			"period1":  strconv.FormatInt(start.Unix(), 10),
			"period2":  strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10),
			"interval": "1d",
			"events":   "history",
		}).
		SetResult(&body).
		SetError(&body).
		Get("/v8/finance/chart/{ticker}")
	if err := vendorError(y.Name(), resp, err); err != nil {
		return models.HistoricalSeries{}, err
	}
	if body.Chart.Error != nil {
		return models.HistoricalSeries{}, apperrors.DataUnavailable(
			fmt.Sprintf("yahoo: %s: %s", body.Chart.Error.Code, body.Chart.Error.Description))
	}

	series := models.HistoricalSeries{Ticker: ticker, Source: y.Name()}
	if len(body.Chart.Result) == 0 {
		return series, nil
	}
	result := body.Chart.Result[0]

	var closes []*float64
	if adj := result.Indicators.AdjClose; len(adj) > 0 && len(adj[0].AdjClose) == len(result.Timestamp) {
		closes = adj[0].AdjClose
	} else if q := result.Indicators.Quote; len(q) > 0 && len(q[0].Close) == len(result.Timestamp) {
		closes = q[0].Close
	} else {
		return series, nil
	}

	series.Points = make([]models.PricePoint, 0, len(closes))
	for i, c := range closes {
		if c == nil || math.IsNaN(*c) {
			continue
		}
		date := time.Unix(result.Timestamp[i], 0).UTC().Truncate(24 * time.Hour)
		series.Points = append(series.Points, models.PricePoint{Date: date, Close: *c})
	}
	return series, nil
}
