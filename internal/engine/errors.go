package engine

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed sync for callers
type ErrorCode string

const (
	// ErrCodeAuthFailed means the user must reconnect
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"
	// ErrCodeNoProgress means the budget ran out before any pending order was fetched
	ErrCodeNoProgress ErrorCode = "NO_PROGRESS"
	// ErrCodePortal means the portal could not be reached at all
	ErrCodePortal ErrorCode = "PORTAL_UNAVAILABLE"
	// ErrCodeStore means the order database or trip store could not be used
	ErrCodeStore ErrorCode = "STORE"
	// ErrCodeInvalid means the request itself was malformed
	ErrCodeInvalid ErrorCode = "INVALID"
)

// SyncError wraps errors with the stage they came from
type SyncError struct {
	Code       ErrorCode
	Message    string
	Underlying error
	// Retry is set when invoking sync again may succeed without user action
	Retry   bool
	Details map[string]interface{}
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Underlying
}

// Is matches another SyncError by code, otherwise the underlying error
func (e *SyncError) Is(target error) bool {
	if t, ok := target.(*SyncError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Underlying, target)
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{
		Code:       code,
		Message:    message,
		Underlying: err,
		Details:    make(map[string]interface{}),
	}
}

// WithRetry marks the error as retryable
func (e *SyncError) WithRetry() *SyncError {
	e.Retry = true
	return e
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// Code returns the code of a SyncError anywhere in err's chain
func Code(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
