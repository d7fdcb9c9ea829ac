package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for the admin API.
	HTTPStatus int `json:"-"`
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
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Error taxonomy constructors ---

// NotFound creates an AppError for a provider id with no registered descriptor.
func NotFound(providerID string) *AppError {
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("No provider registered with id %q.", providerID),
		HTTPStatus: http.StatusNotFound, Retryable: false,
		Details: map[string]any{"provider_id": providerID},
	}
}

// ConfigInvalid creates an AppError for configuration that fails the
// descriptor's schema validation.
func ConfigInvalid(providerID, reason string) *AppError {
	return &AppError{
		Code: ErrCodeConfigInvalid, Message: fmt.Sprintf("Configuration for provider %q is invalid: %s", providerID, reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"provider_id": providerID, "reason": reason},
	}
}

// InvalidInput creates an AppError for a malformed request payload.
func InvalidInput(reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// InitializationFailed creates an AppError for a provider whose initialize or
// load step failed or timed out during satellite startup.
func InitializationFailed(providerID string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInitializationFailed, Message: fmt.Sprintf("Provider %q failed to initialize.", providerID),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"provider_id": providerID}, Cause: cause,
	}
}

// CallTimeout creates an AppError for a call that exceeded its deadline.
func CallTimeout(providerID, method string) *AppError {
	return &AppError{
		Code: ErrCodeCallTimeout, Message: fmt.Sprintf("Call %q to provider %q exceeded its deadline.", method, providerID),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"provider_id": providerID, "method": method},
	}
}

// ProviderCrashed creates an AppError for a worker that terminated unexpectedly.
func ProviderCrashed(providerID string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeProviderCrashed, Message: fmt.Sprintf("Provider %q terminated unexpectedly.", providerID),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"provider_id": providerID}, Cause: cause,
	}
}

// ResourceExceeded creates an AppError for a worker that breached a resource ceiling.
func ResourceExceeded(providerID string, usage, limit uint64) *AppError {
	return &AppError{
		Code: ErrCodeResourceExceeded, Message: fmt.Sprintf("Provider %q exceeded its resource ceiling.", providerID),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"provider_id": providerID, "usage_bytes": usage, "limit_bytes": limit},
	}
}

// ChannelClosed creates an AppError for a call left pending when its worker
// channel was torn down.
func ChannelClosed(providerID string) *AppError {
	return &AppError{
		Code: ErrCodeChannelClosed, Message: fmt.Sprintf("Channel to provider %q closed while the call was pending.", providerID),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"provider_id": providerID},
	}
}

// ProviderUnavailable creates an AppError for a satellite that exhausted its
// restart budget. This is the only terminal, non-retryable fault surfaced to
// callers; recovery requires operator intervention.
func ProviderUnavailable(providerID string) *AppError {
	return &AppError{
		Code: ErrCodeProviderUnavailable, Message: fmt.Sprintf("Provider %q is unavailable: restart budget exhausted.", providerID),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
		Details: map[string]any{"provider_id": providerID},
	}
}

// Internal creates an AppError for an unexpected host-side error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}
