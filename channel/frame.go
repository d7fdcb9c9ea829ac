package channel

import (
	"encoding/json"

	"github.com/skillsenselab/orbit/errors"
)

// Kind discriminates frame types on the wire.
type Kind string

const (
	// KindCall is a host-to-worker invocation.
	KindCall Kind = "call"
	// KindResult carries the single response of a unary call.
	KindResult Kind = "result"
	// KindChunk carries one element of a streaming response.
	KindChunk Kind = "chunk"
	// KindEnd marks the clean end of a streaming response.
	KindEnd Kind = "end"
	// KindError terminates a call (unary or streaming) with an error.
	KindError Kind = "error"
	// KindHeartbeat is an unsolicited worker liveness signal. No id.
	KindHeartbeat Kind = "heartbeat"
	// KindReady announces that the worker process is accepting calls. No id.
	KindReady Kind = "ready"
)

// MethodInitialize is the reserved method the host sends exactly once,
// before any capability method, to hand the worker its provider
// configuration.
const MethodInitialize = "initialize"

// InitRequest is the payload of the reserved initialize call.
type InitRequest struct {
	Config  map[string]any `json:"config,omitempty"`
	WorkDir string         `json:"work_dir,omitempty"`
}

// Frame is one line on the wire, either direction.
type Frame struct {
	// ID correlates a response to its call. Unset on heartbeat and ready.
	ID string `json:"id,omitempty"`
	// Kind is the frame type.
	Kind Kind `json:"kind"`
	// Method names the invoked operation. Call frames only.
	Method string `json:"method,omitempty"`
	// Payload is the method input or output, left opaque to the codec.
	Payload json.RawMessage `json:"payload,omitempty"`
	// DeadlineMS is the call budget in milliseconds. Call frames only;
	// zero means no deadline.
	DeadlineMS int64 `json:"deadline_ms,omitempty"`
	// Error carries the failure of an error frame.
	Error *errors.ErrorBody `json:"error,omitempty"`
}

// AppError reconstructs an AppError from the frame's wire error. Frames
// without an error yield nil.
func (f *Frame) AppError(providerID string) *errors.AppError {
	if f.Error == nil {
		return nil
	}
	code := f.Error.Code
	if code == "" {
		code = errors.ErrCodeInternal
	}
	appErr := &errors.AppError{
		Code:      code,
		Message:   f.Error.Message,
		Retryable: f.Error.Retryable,
		Details:   f.Error.Details,
	}
	if providerID != "" {
		appErr = appErr.WithDetail("provider_id", providerID)
	}
	return appErr
}

// WireError converts any error into the wire representation. Non-AppError
// values are wrapped as INTERNAL_ERROR.
func WireError(err error) *errors.ErrorBody {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	return &errors.ErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
		Details:   appErr.Details,
	}
}
