package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Registry errors (not retryable — the request itself is wrong)
const (
	// ErrCodeNotFound indicates the requested provider id has no registered descriptor.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConfigInvalid indicates supplied configuration failed descriptor schema validation.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrCodeInvalidInput indicates a malformed request payload or argument.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Satellite fault errors (retryable — the satellite restarts and may recover)
const (
	// ErrCodeInitializationFailed indicates initialize/load failed or timed out during startup.
	ErrCodeInitializationFailed ErrorCode = "INITIALIZATION_FAILED"
	// ErrCodeCallTimeout indicates a call exceeded its deadline.
	ErrCodeCallTimeout ErrorCode = "CALL_TIMEOUT"
	// ErrCodeProviderCrashed indicates the worker process terminated unexpectedly mid-call.
	ErrCodeProviderCrashed ErrorCode = "PROVIDER_CRASHED"
	// ErrCodeResourceExceeded indicates the worker exceeded a configured resource ceiling.
	ErrCodeResourceExceeded ErrorCode = "RESOURCE_EXCEEDED"
	// ErrCodeChannelClosed indicates the worker channel was torn down while a call was pending.
	ErrCodeChannelClosed ErrorCode = "CHANNEL_CLOSED"
)

// Terminal errors
const (
	// ErrCodeProviderUnavailable indicates the satellite exhausted its restart
	// budget and is terminated until operator intervention.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrCodeInternal indicates an unexpected host-side error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeInitializationFailed: true,
	ErrCodeCallTimeout:          true,
	ErrCodeProviderCrashed:      true,
	ErrCodeResourceExceeded:     true,
	ErrCodeChannelClosed:        true,
	ErrCodeNotFound:             false,
	ErrCodeConfigInvalid:        false,
	ErrCodeInvalidInput:         false,
	ErrCodeProviderUnavailable:  false,
	ErrCodeInternal:             false,
}

// IsRetryableCode returns true if a subsequent call with the same arguments
// may succeed once the satellite returns to Ready.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
