package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

const (
	// DefaultFREDBaseURL is the FRED API host
	DefaultFREDBaseURL = "https://api.stlouisfed.org"
	// DefaultRateSeries is the 3-month Treasury bill secondary market rate
	DefaultRateSeries = "DTB3"
)

// FREDSource reads the latest observation of a FRED rate series
type FREDSource struct {
	client *resty.Client
	series string
	apiKey string
}

// NewFREDSource creates a FRED client for series (DTB3 when empty)
func NewFREDSource(baseURL, apiKey, series string, timeout time.Duration) *FREDSource {
	if baseURL == "" {
		baseURL = DefaultFREDBaseURL
	}
	if series == "" {
		series = DefaultRateSeries
	}
	return &FREDSource{
		client: newRestClient(baseURL, timeout),
		series: series,
		apiKey: apiKey,
	}
}

// Name implements RateSource
func (f *FREDSource) Name() string {
	return "fred"
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
	ErrorMessage string `json:"error_message"`
}

// LatestRate implements RateSource. FRED marks missing days with "." so the
// newest numeric observation wins.
func (f *FREDSource) LatestRate(ctx context.Context) (float64, error) {
	var body observationsResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"series_id":  f.series,
			"api_key":    f.apiKey,
			"file_type":  "json",
			"sort_order": "desc",
			"limit":      "10",
		}).
		SetResult(&body).
		SetError(&body).
		Get("/fred/series/observations")
	if err := vendorError(f.Name(), resp, err); err != nil {
		if body.ErrorMessage != "" {
			return 0, apperrors.Wrap(err, body.ErrorMessage)
		}
		return 0, err
	}

	for _, obs := range body.Observations {
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		return v, nil
	}
	return 0, apperrors.DataUnavailable(fmt.Sprintf("fred: no numeric observation for %s", f.series))
}
