package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsType(t *testing.T) {
	base := DataUnavailable("no history for XYZ")
	wrapped := Wrapf(base, "estimate volatility for %s", "XYZ")

	assert.True(t, IsType(wrapped, ErrorTypeDataUnavailable))
	assert.Equal(t, "estimate volatility for XYZ: no history for XYZ", wrapped.Error())
	assert.True(t, Is(wrapped, base))
}

func TestTypeOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("valuation failed: %w", InvalidExpiry("expiry 2020-01-01 is not after 2024-01-01"))

	assert.Equal(t, ErrorTypeInvalidExpiry, TypeOf(err))
	assert.False(t, IsType(err, ErrorTypeInvalidParameter))
}

func TestWithTypeOnForeignError(t *testing.T) {
	err := WithType(context.DeadlineExceeded, ErrorTypeTimeout)

	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.True(t, Is(err, context.DeadlineExceeded))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, WithType(nil, ErrorTypeInternal))
	assert.False(t, IsType(nil, ErrorTypeUnknown))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(fmt.Errorf("plain")))
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "invalid_parameter", ErrorTypeInvalidParameter.String())
	assert.Equal(t, "configuration", ErrorTypeConfiguration.String())
	assert.Equal(t, "unknown", ErrorType(99).String())
}
