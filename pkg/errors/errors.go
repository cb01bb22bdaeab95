package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeDiscovery       ErrorCode = "DISCOVERY_FAILED"
	ErrCodeHandshake       ErrorCode = "HANDSHAKE_FAILED"
	ErrCodeRejected        ErrorCode = "REJECTED"
	ErrCodeSend            ErrorCode = "SEND_FAILED"
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewPayloadTooLargeError(limit int) *AppError {
	return NewAppError(ErrCodePayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", limit), http.StatusRequestEntityTooLarge).
		WithContext("limit", limit)
}

// NewDiscoveryError reports a failure to start or run advertise/browse.
func NewDiscoveryError(err error, message string) *AppError {
	return WrapError(err, ErrCodeDiscovery, message, http.StatusServiceUnavailable)
}

// NewHandshakeError reports a connection attempt that failed before the
// data channels opened.
func NewHandshakeError(err error, peerKey string) *AppError {
	return WrapError(err, ErrCodeHandshake, "handshake failed", http.StatusBadGateway).
		WithContext("peer_key", peerKey)
}

// NewRejectedError reports a hello refused by the remote side.
func NewRejectedError(peerKey, reason string) *AppError {
	return NewAppError(ErrCodeRejected, reason, http.StatusForbidden).
		WithContext("peer_key", peerKey)
}

func NewSendError(err error, peerKey string) *AppError {
	return WrapError(err, ErrCodeSend, "send failed", http.StatusBadGateway).
		WithContext("peer_key", peerKey)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}
