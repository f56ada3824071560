// Package apperrors provides the typed error hierarchy and retry
// classification used across the scheduler, validator, and uploader.
package apperrors

import (
	"fmt"
	"net/http"

	"github.com/user/tagwatch/internal/model"
)

// Error codes. These map 1:1 onto model.IssueKind for validator-surfaced
// errors.
const (
	CodeAnalyticsIDMismatch    = string(model.IssueAnalyticsIDMismatch)
	CodeTagManagerIDMismatch   = string(model.IssueTagManagerIDMismatch)
	CodePageViewNotFound       = string(model.IssuePageViewNotFound)
	CodeNoAnalyticsEvents      = string(model.IssueNoAnalyticsEvents)
	CodeAnalyticsNotConfigured = string(model.IssueAnalyticsNotConfigured)
	CodeConsentModeBasic       = string(model.IssueConsentModeBasic)
	CodeTagManagerNotFound     = string(model.IssueTagManagerNotFound)
	CodeServiceClosed          = string(model.IssueServiceClosed)
	CodeServerError            = string(model.IssueServerError)
	CodeValidationError        = string(model.IssueValidationError)
	CodeTimeout                = string(model.IssueTimeout)
)

// AppError is the base application error type.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents a navigation or event-wait deadline exceeded.
// Phase 1 timeouts escalate to Phase 2; Phase 2 timeouts go to the retry
// queue — neither is retried inline.
type TimeoutError struct {
	AppError
}

func NewTimeoutError(message string, cause error) *TimeoutError {
	return &TimeoutError{AppError{Code: CodeTimeout, Message: message, HTTPStatus: http.StatusRequestTimeout, Cause: cause}}
}

// TransportError represents a retryable transport-level failure: connection
// refused/reset, HTTP 5xx, page crash.
type TransportError struct {
	AppError
}

func NewTransportError(message string, cause error) *TransportError {
	return &TransportError{AppError{Code: CodeServerError, Message: message, HTTPStatus: http.StatusBadGateway, Cause: cause}}
}

// Class is the scheduler-level retry classification.
type Class string

const (
	ClassRetryable      Class = "retryable"
	ClassNonRetryable   Class = "non_retryable"
	ClassPhaseEscalated Class = "phase_escalated"
)

// Classify maps an error to its retry classification. Timeout errors are
// PhaseEscalated — callers in Phase 1 route them to the Phase-2 queue;
// callers in Phase 2 route them to the retry queue. Transport errors
// (including a failure to open a stealth session against the browser pool)
// are Retryable. Everything else is NonRetryable.
func Classify(err error) Class {
	switch err.(type) {
	case *TimeoutError:
		return ClassPhaseEscalated
	case *TransportError:
		return ClassRetryable
	default:
		return ClassNonRetryable
	}
}
