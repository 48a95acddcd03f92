package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType uint

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidExpiry represents an option expiry that is not in the future
	ErrorTypeInvalidExpiry
	// ErrorTypeDataUnavailable represents a provider that returned no usable data
	ErrorTypeDataUnavailable
	// ErrorTypeInvalidParameter represents a pricing input that would produce NaN/Inf
	ErrorTypeInvalidParameter
	// ErrorTypeConfiguration represents an invalid option or setting
	ErrorTypeConfiguration
	// ErrorTypeNetwork represents a network error
	ErrorTypeNetwork
	// ErrorTypeTimeout represents a timeout error
	ErrorTypeTimeout
	// ErrorTypeInternal represents an internal error
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidExpiry:
		return "invalid_expiry"
	case ErrorTypeDataUnavailable:
		return "data_unavailable"
	case ErrorTypeInvalidParameter:
		return "invalid_parameter"
	case ErrorTypeConfiguration:
		return "configuration"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new error with the given message
func New(message string) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: message,
	}
}

// Newf creates a new error with the given format and arguments
func Newf(format string, args ...interface{}) error {
	return &AppError{
		Type:    ErrorTypeUnknown,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a message, keeping the type of the wrapped error
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    TypeOf(err),
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithType wraps err so that it reports errType
func WithType(err error, errType ErrorType) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:    errType,
		Message: err.Error(),
		Err:     err,
	}
}

// TypeOf returns the type of the outermost AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// Is reports whether err or any of the errors in its chain is target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines several errors into one
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// InvalidExpiry creates a new InvalidExpiry error
func InvalidExpiry(message string) error {
	return &AppError{
		Type:    ErrorTypeInvalidExpiry,
		Message: message,
	}
}

// DataUnavailable creates a new DataUnavailable error
func DataUnavailable(message string) error {
	return &AppError{
		Type:    ErrorTypeDataUnavailable,
		Message: message,
	}
}

// InvalidParameter creates a new InvalidParameter error
func InvalidParameter(message string) error {
	return &AppError{
		Type:    ErrorTypeInvalidParameter,
		Message: message,
	}
}

// Configuration creates a new Configuration error
func Configuration(message string) error {
	return &AppError{
		Type:    ErrorTypeConfiguration,
		Message: message,
	}
}

// Network creates a new Network error
func Network(message string) error {
	return &AppError{
		Type:    ErrorTypeNetwork,
		Message: message,
	}
}

// Timeout creates a new Timeout error
func Timeout(message string) error {
	return &AppError{
		Type:    ErrorTypeTimeout,
		Message: message,
	}
}

// Internal creates a new Internal error
func Internal(message string) error {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
	}
}
