// Package tts defines the text-to-speech capability: a streaming driver
// contract that yields audio in chunks, and the host-side client that
// consumes the stream through the capability router.
package tts

import (
	"context"
	"encoding/json"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/satellite"
	"github.com/skillsenselab/orbit/worker"
)

// MethodSpeak is the wire method for synthesis calls.
const MethodSpeak = "speak"

// Request holds parameters for one synthesis call.
type Request struct {
	// Text is the text to synthesize.
	Text string `json:"text"`
	// Voice selects the provider's voice. Provider-specific.
	Voice string `json:"voice,omitempty"`
	// Speed is the playback rate multiplier. Zero means provider default.
	Speed float64 `json:"speed,omitempty"`
	// Format is the desired audio container (e.g. "wav", "mp3").
	Format string `json:"format,omitempty"`
}

// Chunk is one piece of generated audio. Audio is raw bytes; JSON encodes
// it as base64 on the wire.
type Chunk struct {
	Audio []byte `json:"audio"`
	// Seq is the chunk's position in the stream, starting at zero.
	Seq int `json:"seq"`
}

// Driver is what a text-to-speech provider implements. Load runs after
// Initialize during startup and prepares heavyweight resources such as
// voices; it must be idempotent and safe to call repeatedly. Speak returns
// a finite, non-restartable chunk sequence; a new call starts a new
// sequence.
type Driver interface {
	plugin.Plugin

	Load(ctx context.Context) error
	Speak(ctx context.Context, req Request) (plugin.Iterator[Chunk], error)
}

// Serve builds the worker runtime for a TTS driver, pumping the driver's
// iterator into the stream sink. The driver's Load runs as part of the
// initialize handshake, bounded by the startup deadline.
func Serve(d Driver, opts ...worker.Option) *worker.Runtime {
	rt := worker.NewRuntime(d, opts...)
	rt.OnInitialize(d.Load)
	rt.HandleStream(MethodSpeak, func(ctx context.Context, payload json.RawMessage, sink *worker.Sink) error {
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return errors.InvalidInput(err.Error())
		}
		if req.Text == "" {
			return errors.InvalidInput("text is required")
		}

		it, err := d.Speak(ctx, req)
		if err != nil {
			return err
		}
		defer it.Close()

		for {
			chunk, ok, err := it.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := sink.Send(chunk); err != nil {
				return err
			}
		}
	})
	return rt
}

// StreamInvoker forwards streaming capability calls to a provider.
// *router.Router implements it.
type StreamInvoker interface {
	InvokeStream(ctx context.Context, providerID, method string, payload any) (*satellite.Stream, error)
}

// Client is the host-side TTS API over a provider.
type Client struct {
	invoker    StreamInvoker
	providerID string
}

// NewClient creates a Client bound to one provider id.
func NewClient(invoker StreamInvoker, providerID string) *Client {
	return &Client{invoker: invoker, providerID: providerID}
}

// Speak synthesizes text and returns the audio chunk stream.
func (c *Client) Speak(ctx context.Context, req Request) (*Stream, error) {
	src, err := c.invoker.InvokeStream(ctx, c.providerID, MethodSpeak, req)
	if err != nil {
		return nil, err
	}
	return &Stream{src: src}, nil
}

// Stream yields synthesized audio chunks in production order. Exhaustion is
// (zero, false, nil); premature termination carries the cause.
type Stream struct {
	src *satellite.Stream
}

// Next returns the next audio chunk.
func (s *Stream) Next(ctx context.Context) (Chunk, bool, error) {
	raw, ok, err := s.src.Next(ctx)
	if err != nil || !ok {
		return Chunk{}, false, err
	}
	var chunk Chunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Chunk{}, false, errors.Internal(err)
	}
	return chunk, true, nil
}

// Close abandons the stream.
func (s *Stream) Close() error {
	return s.src.Close()
}
