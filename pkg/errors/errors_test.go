package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, ErrUnauthorized, false},
		{http.StatusBadRequest, ErrValidation, false},
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusConflict, ErrConflict, false},
		{http.StatusUnprocessableEntity, ErrValidation, false},
		{http.StatusInternalServerError, ErrUnavailable, true},
		{http.StatusBadGateway, ErrUnavailable, true},
		{http.StatusServiceUnavailable, ErrUnavailable, true},
	}

	for _, tt := range tests {
		err := FromStatusCode(tt.status, "message")
		assert.Equal(t, tt.code, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, Retryable(err), "status %d", tt.status)
	}
}

func TestRetryableUnknownErrors(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("connection reset")),
		"errors of unknown provenance get the benefit of the doubt")
	assert.True(t, Retryable(Timeout(nil)))
	assert.False(t, Retryable(UnknownEventType("legacy")))
}

func TestHasCodeUnwraps(t *testing.T) {
	inner := Validation("bad sample", nil)
	wrapped := fmt.Errorf("failed to save: %w", inner)

	assert.True(t, HasCode(wrapped, ErrValidation))
	assert.False(t, HasCode(wrapped, ErrNotFound))
	assert.False(t, Retryable(wrapped), "wrapping must not change the verdict")
}
