package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
)

const userAgent = "option-valuation/1.0"

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
}

// vendorError maps a transport failure or a non-2xx status to the error taxonomy
func vendorError(source string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.WithType(err, apperrors.ErrorTypeTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeNetwork), fmt.Sprintf("%s request failed", source))
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound {
			return apperrors.DataUnavailable(fmt.Sprintf("%s: not found", source))
		}
		return apperrors.Network(fmt.Sprintf("%s returned status %d", source, resp.StatusCode()))
	}
	return nil
}
