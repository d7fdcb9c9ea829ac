// Package stt defines the speech-to-text capability: the driver contract a
// provider implements worker-side and the client the host calls through the
// capability router.
package stt

import (
	"context"
	"encoding/json"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/worker"
)

// MethodTranscribe is the wire method for transcription calls.
const MethodTranscribe = "transcribe"

// Request holds parameters for a transcription call.
type Request struct {
	// AudioPath is the path to the audio file to transcribe. Workers run on
	// the same host, so audio travels by path, not by value.
	AudioPath string `json:"audio_path"`
	// Language is the expected language of the audio (e.g. "en").
	Language string `json:"language,omitempty"`
	// Model is the transcription model to use.
	Model string `json:"model,omitempty"`
	// Format is the desired output format (e.g. "text", "json", "srt").
	Format string `json:"format,omitempty"`
}

// Response holds the result of a transcription call.
type Response struct {
	// Text is the full transcription text.
	Text string `json:"text"`
	// Segments contains time-aligned transcript segments.
	Segments []Segment `json:"segments,omitempty"`
	// Duration is the audio duration in seconds.
	Duration float64 `json:"duration,omitempty"`
	// Language is the detected or specified language.
	Language string `json:"language,omitempty"`
}

// Segment represents a time-aligned portion of a transcript.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Driver is what a speech-to-text provider implements. Load runs after
// Initialize during startup and prepares heavyweight resources such as
// models; it must be idempotent and safe to call repeatedly. Transcribe
// handles one call at a time.
type Driver interface {
	plugin.Plugin

	Load(ctx context.Context) error
	Transcribe(ctx context.Context, req Request) (*Response, error)
}

// Serve builds the worker runtime for an STT driver. The driver's Load runs
// as part of the initialize handshake, bounded by the startup deadline.
func Serve(d Driver, opts ...worker.Option) *worker.Runtime {
	rt := worker.NewRuntime(d, opts...)
	rt.OnInitialize(d.Load)
	rt.Handle(MethodTranscribe, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		if req.AudioPath == "" {
			return nil, errors.InvalidInput("audio_path is required")
		}
		return d.Transcribe(ctx, req)
	})
	return rt
}

// Invoker forwards capability calls to a provider. *router.Router
// implements it.
type Invoker interface {
	Invoke(ctx context.Context, providerID, method string, payload any) (json.RawMessage, error)
}

// Client is the host-side STT API over a provider.
type Client struct {
	invoker    Invoker
	providerID string
}

// NewClient creates a Client bound to one provider id.
func NewClient(invoker Invoker, providerID string) *Client {
	return &Client{invoker: invoker, providerID: providerID}
}

// Transcribe sends audio for transcription and returns the result.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Response, error) {
	raw, err := c.invoker.Invoke(ctx, c.providerID, MethodTranscribe, req)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Internal(err)
	}
	return &resp, nil
}
