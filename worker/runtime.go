package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/skillsenselab/orbit/channel"
	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/plugin"
)

// HandlerFunc handles a unary method: one request payload, one result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// StreamHandlerFunc handles a streaming method, pushing chunks through the
// sink. Returning nil ends the stream cleanly; returning an error
// terminates it.
type StreamHandlerFunc func(ctx context.Context, payload json.RawMessage, sink *Sink) error

// InitRequest is the payload of the reserved initialize call.
type InitRequest = channel.InitRequest

// Runtime serves one plugin over a frame connection.
type Runtime struct {
	plugin      plugin.Plugin
	handlers    map[string]HandlerFunc
	streams     map[string]StreamHandlerFunc
	initHooks   []func(ctx context.Context) error
	heartbeat   time.Duration
	log         *logger.Logger
	customLog   bool
	initialized bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithHeartbeatInterval overrides the heartbeat cadence. Defaults to 1s.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(rt *Runtime) { rt.heartbeat = d }
}

// WithLogger sets the runtime's logger. It must write to stderr.
func WithLogger(log *logger.Logger) Option {
	return func(rt *Runtime) {
		rt.log = log
		rt.customLog = true
	}
}

// NewRuntime creates a Runtime for the given plugin. Capability methods are
// registered with Handle and HandleStream before Serve.
func NewRuntime(p plugin.Plugin, opts ...Option) *Runtime {
	rt := &Runtime{
		plugin:    p,
		handlers:  make(map[string]HandlerFunc),
		streams:   make(map[string]StreamHandlerFunc),
		heartbeat: time.Second,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Handle registers a unary method handler.
func (rt *Runtime) Handle(method string, h HandlerFunc) {
	rt.handlers[method] = h
}

// HandleStream registers a streaming method handler.
func (rt *Runtime) HandleStream(method string, h StreamHandlerFunc) {
	rt.streams[method] = h
}

// OnInitialize registers a hook run after the plugin's Initialize during
// the reserved initialize call, under the same startup deadline. Capability
// packages use it to run their drivers' resource loading.
func (rt *Runtime) OnInitialize(h func(ctx context.Context) error) {
	rt.initHooks = append(rt.initHooks, h)
}

// Serve announces readiness and processes call frames until r reaches EOF
// or ctx is canceled. EOF is the host's graceful shutdown signal and
// returns nil.
func (rt *Runtime) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := channel.NewEncoder(w)
	dec := channel.NewDecoder(r)

	if err := enc.Encode(&channel.Frame{Kind: channel.KindReady}); err != nil {
		return fmt.Errorf("worker: announce ready: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go rt.heartbeatLoop(hbCtx, enc)

	for {
		f, err := dec.Decode()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker: read frame: %w", err)
		}
		if f.Kind != channel.KindCall {
			continue
		}
		rt.handleCall(ctx, enc, f)
	}
}

func (rt *Runtime) heartbeatLoop(ctx context.Context, enc *channel.Encoder) {
	ticker := time.NewTicker(rt.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := enc.Encode(&channel.Frame{Kind: channel.KindHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (rt *Runtime) handleCall(ctx context.Context, enc *channel.Encoder, f *channel.Frame) {
	callCtx := ctx
	if f.DeadlineMS > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(f.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	if f.Method == channel.MethodInitialize {
		rt.reply(enc, f, rt.initialize(callCtx, f.Payload))
		return
	}
	if !rt.initialized {
		rt.reply(enc, f, errors.InvalidInput(
			fmt.Sprintf("method %q called before initialize", f.Method)))
		return
	}

	if h, ok := rt.streams[f.Method]; ok {
		rt.runStream(callCtx, enc, f, h)
		return
	}
	if h, ok := rt.handlers[f.Method]; ok {
		rt.runUnary(callCtx, enc, f, h)
		return
	}
	rt.reply(enc, f, errors.InvalidInput(fmt.Sprintf("unknown method %q", f.Method)))
}

func (rt *Runtime) initialize(ctx context.Context, payload json.RawMessage) error {
	if rt.initialized {
		return errors.InvalidInput("initialize called twice")
	}
	var req InitRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return errors.InvalidInput(fmt.Sprintf("decode initialize payload: %v", err))
		}
	}
	if err := rt.plugin.Initialize(ctx, plugin.Context{Config: req.Config, WorkDir: req.WorkDir}); err != nil {
		return errors.InitializationFailed(rt.plugin.ID(), err)
	}
	for _, hook := range rt.initHooks {
		if err := hook(ctx); err != nil {
			return errors.InitializationFailed(rt.plugin.ID(), err)
		}
	}
	rt.initialized = true
	rt.log.Info("provider initialized", map[string]interface{}{
		logger.FieldProvider: rt.plugin.ID(),
	})
	return nil
}

func (rt *Runtime) runUnary(ctx context.Context, enc *channel.Encoder, f *channel.Frame, h HandlerFunc) {
	result, err := h(ctx, f.Payload)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		rt.reply(enc, f, err)
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		rt.reply(enc, f, errors.Internal(fmt.Errorf("encode %s result: %w", f.Method, err)))
		return
	}
	_ = enc.Encode(&channel.Frame{ID: f.ID, Kind: channel.KindResult, Payload: raw})
}

func (rt *Runtime) runStream(ctx context.Context, enc *channel.Encoder, f *channel.Frame, h StreamHandlerFunc) {
	sink := &Sink{enc: enc, id: f.ID}
	if err := h(ctx, f.Payload, sink); err != nil {
		rt.reply(enc, f, err)
		return
	}
	_ = enc.Encode(&channel.Frame{ID: f.ID, Kind: channel.KindEnd})
}

// reply writes an error frame when err is non-nil, a bare result frame
// otherwise (used for initialize's empty success).
func (rt *Runtime) reply(enc *channel.Encoder, f *channel.Frame, err error) {
	if err == nil {
		_ = enc.Encode(&channel.Frame{ID: f.ID, Kind: channel.KindResult, Payload: json.RawMessage(`{}`)})
		return
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.CallTimeout(rt.plugin.ID(), f.Method).WithCause(err)
	}
	rt.log.Warn("call failed", logger.ErrorFields("call", err))
	_ = enc.Encode(&channel.Frame{ID: f.ID, Kind: channel.KindError, Error: channel.WireError(err)})
}
