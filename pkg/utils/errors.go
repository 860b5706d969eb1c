package utils

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/shopspring/decimal"
)

// AppError represents an application error with context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WithStackTrace adds stack trace to the error
func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// Common error codes
const (
	ErrCodeConnection        = "CONNECTION_ERROR"
	ErrCodeDatabase          = "DATABASE_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeConfiguration     = "CONFIGURATION_ERROR"
	ErrCodeDependency        = "DEPENDENCY_ERROR"
	ErrCodeExternal          = "EXTERNAL_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// FieldError reports which input field is invalid. The field name travels
// in Details.
func FieldError(field, message string) error {
	return NewAppError(ErrCodeValidation, message, field)
}

// CheckDecimal reports a field error when value does not fit a
// NUMERIC(digits, places) column.
func CheckDecimal(field string, value decimal.Decimal, digits, places int) error {
	abs := value.Abs()
	if !abs.Equal(abs.Truncate(int32(places))) {
		return FieldError(field, fmt.Sprintf("Ensure that there are no more than %d decimal places.", places))
	}
	if abs.GreaterThanOrEqual(decimal.New(1, int32(digits-places))) {
		return FieldError(field, fmt.Sprintf("Ensure that there are no more than %d digits in total.", digits))
	}
	return nil
}

// ErrorCode returns the code of the first AppError in err's chain, or
// ErrCodeInternal when there is none.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case ErrCodeValidation, ErrCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeDependency, ErrCodeConnection, ErrCodeExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
