package utils

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewAppError(ErrCodeValidation, "Amount is required", "amount")
	assert.Equal(t, "VALIDATION_ERROR: Amount is required (amount)", err.Error())

	bare := NewAppError(ErrCodeNotFound, "Category not found")
	assert.Equal(t, "NOT_FOUND: Category not found", bare.Error())
	assert.NotZero(t, bare.Line)
}

func TestErrorCodeSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("create transaction: %w", NewAppError(ErrCodeInsufficientFunds, "not enough funds"))

	assert.True(t, IsCode(wrapped, ErrCodeInsufficientFunds))
	assert.False(t, IsCode(wrapped, ErrCodeValidation))
	assert.Equal(t, ErrCodeInternal, ErrorCode(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrCodeValidation:        http.StatusBadRequest,
		ErrCodeInsufficientFunds: http.StatusBadRequest,
		ErrCodeUnauthorized:      http.StatusUnauthorized,
		ErrCodeNotFound:          http.StatusNotFound,
		ErrCodeConflict:          http.StatusConflict,
		ErrCodeRateLimited:       http.StatusTooManyRequests,
		ErrCodeDependency:        http.StatusServiceUnavailable,
		ErrCodeDatabase:          http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, HTTPStatus(NewAppError(code, "x")), code)
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "po****es", MaskSecret("postgres"))
	assert.Equal(t, "***", MaskSecret("abc"))
}

func TestCheckDecimal(t *testing.T) {
	tests := []struct {
		value   string
		message string
	}{
		{"99999999.99", ""},
		{"-99999999.99", ""},
		{"100000000", "Ensure that there are no more than 10 digits in total."},
		{"1.005", "Ensure that there are no more than 2 decimal places."},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := CheckDecimal("amount", decimal.RequireFromString(tt.value), 10, 2)
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, ErrCodeValidation, appErr.Code)
			assert.Equal(t, "amount", appErr.Details)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}
