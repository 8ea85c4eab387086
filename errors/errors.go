package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// AppError is the unified error type returned by llmhub.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the upstream HTTP status, when the error came from a response.
	HTTPStatus int `json:"status,omitempty"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, errors.Cancelled("")) matches any cancellation.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Constructors ---

// RateLimitExceeded creates an error for an exhausted rate-limit wait budget.
func RateLimitExceeded(provider string) *AppError {
	return &AppError{
		Code: ErrCodeRateLimitExceeded, Message: fmt.Sprintf("rate limit for %s exceeded", provider),
		Details: map[string]any{"provider": provider},
	}
}

// ConcurrencyLimit creates an error for a full stream bulkhead.
func ConcurrencyLimit(provider string, limit int) *AppError {
	return &AppError{
		Code: ErrCodeConcurrencyLimit, Message: fmt.Sprintf("%s allows at most %d concurrent streams", provider, limit),
		Details: map[string]any{"provider": provider, "limit": limit},
	}
}

// Cancelled creates an error for an aborted operation.
func Cancelled(reason string) *AppError {
	if reason == "" {
		reason = "operation cancelled"
	}
	return &AppError{Code: ErrCodeCancelled, Message: reason}
}

// Transport creates a retryable error for a connection-level failure.
func Transport(cause error) *AppError {
	msg := "transport failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &AppError{Code: ErrCodeTransport, Message: msg, Retryable: true, Cause: cause}
}

// ProtocolViolation creates an error for malformed provider output.
func ProtocolViolation(provider, reason string) *AppError {
	return &AppError{
		Code: ErrCodeProtocolViolation, Message: fmt.Sprintf("%s: %s", provider, reason),
		Details: map[string]any{"provider": provider},
	}
}

// UnsupportedFeature creates an error for a capability the provider lacks.
func UnsupportedFeature(provider, feature string) *AppError {
	return &AppError{
		Code: ErrCodeUnsupportedFeature, Message: fmt.Sprintf("%s does not support %s", provider, feature),
		Details: map[string]any{"provider": provider, "feature": feature},
	}
}

// Provider creates an error for a request the provider rejected.
func Provider(provider string, status int, message string) *AppError {
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}
	return &AppError{
		Code: ErrCodeProvider, Message: fmt.Sprintf("%s: %s", provider, message),
		HTTPStatus: status, Details: map[string]any{"provider": provider},
	}
}

// InvalidState creates an error for an operation illegal in the current state.
func InvalidState(reason string) *AppError {
	return &AppError{Code: ErrCodeInvalidState, Message: reason}
}

// InvalidConfig creates an error for a configuration problem.
func InvalidConfig(reason string) *AppError {
	return &AppError{Code: ErrCodeInvalidConfig, Message: reason}
}

// Internal creates an error for an unexpected condition.
func Internal(cause error) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: "unexpected internal error", Cause: cause}
}

// --- Inspection helpers ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the code of err, or "" when err is nil or not an AppError.
func KindOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// IsCancelled reports whether err is a cancellation, including bare context errors.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == ErrCodeCancelled {
		return true
	}
	return stderrors.Is(err, context.Canceled)
}

// IsRetryable reports whether err is an AppError marked retryable.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// FromContext maps a context error onto the taxonomy. Deadline expiry is a
// transport timeout; explicit cancellation is Cancelled.
func FromContext(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Transport(err)
	}
	return Cancelled(err.Error()).WithCause(err)
}

// Wrap converts any error into an AppError, passing AppErrors through unchanged.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return FromContext(err)
	}
	return Internal(err)
}

// UserMessage renders err as a short sentence suitable for end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := AsAppError(err)
	if !ok {
		return "Unexpected error: " + err.Error()
	}
	switch appErr.Code {
	case ErrCodeRateLimitExceeded:
		return "API rate limit exceeded, please wait before retrying"
	case ErrCodeConcurrencyLimit:
		return "Too many concurrent requests, please retry shortly"
	case ErrCodeCancelled:
		return "Request cancelled"
	case ErrCodeTransport:
		return "Failed to reach the API server, please check your network connection"
	case ErrCodeProtocolViolation:
		return "The provider returned a response that could not be parsed"
	case ErrCodeUnsupportedFeature:
		return "The selected provider does not support this request: " + appErr.Message
	case ErrCodeProvider:
		if appErr.HTTPStatus == 401 || appErr.HTTPStatus == 403 {
			return "Invalid API key, please verify your credentials"
		}
		return "API request failed: " + appErr.Message
	case ErrCodeInvalidConfig:
		return "Configuration error: " + appErr.Message + ". Please check your API keys and settings"
	default:
		return "Unexpected error: " + appErr.Message
	}
}
