package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Err       error     `json:"-"`
	Retryable bool      `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrConflict
	ErrTimeout
	ErrUnavailable
	ErrInternal
	ErrUnknownEventType
)

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

// Validation marks input the backend (or the local validator) will never
// accept. Never retryable: the payload has to change, not the timing.
func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Message: message,
		Err:     err,
	}
}

func Timeout(err error) *AppError {
	return &AppError{
		Code:      ErrTimeout,
		Message:   "request timed out",
		Err:       err,
		Retryable: true,
	}
}

func Unavailable(message string, err error) *AppError {
	return &AppError{
		Code:      ErrUnavailable,
		Message:   message,
		Err:       err,
		Retryable: true,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

func UnknownEventType(tag string) *AppError {
	return &AppError{
		Code:    ErrUnknownEventType,
		Message: fmt.Sprintf("unknown event type %q", tag),
	}
}

// FromStatusCode classifies an HTTP response from the sync backend.
// 401 and 400 get dedicated codes because the remote client treats them
// specially; everything else in 402-499 is a payload problem, 5xx is
// transient server trouble.
func FromStatusCode(status int, message string) *AppError {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized(errors.New(message))
	case status == http.StatusBadRequest:
		return Validation(message, nil)
	case status == http.StatusNotFound:
		return NotFound(message, nil)
	case status == http.StatusConflict:
		return Conflict(message, nil)
	case status >= 400 && status < 500:
		return Validation(message, nil)
	default:
		return Unavailable(message, nil)
	}
}

// Retryable reports whether retrying the failed operation later could
// succeed. Unknown errors (plain network failures, timeouts wrapped by
// the transport) are treated as retryable.
func Retryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return err != nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
