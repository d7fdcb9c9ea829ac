package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/skillsenselab/orbit/channel"
	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
	"github.com/skillsenselab/orbit/plugin"
)

type fakePlugin struct {
	initErr error
	inits   int
	gotCtx  plugin.Context
}

func (p *fakePlugin) ID() string                { return "fake-echo" }
func (p *fakePlugin) Name() string              { return "Fake Echo" }
func (p *fakePlugin) Category() plugin.Category { return plugin.CategorySystem }
func (p *fakePlugin) ConfigSchema() any         { return nil }

func (p *fakePlugin) Initialize(_ context.Context, pctx plugin.Context) error {
	p.inits++
	p.gotCtx = pctx
	return p.initErr
}

// startRuntime wires a Runtime to a host-side Channel over in-process pipes.
func startRuntime(t *testing.T, p plugin.Plugin, configure func(*Runtime)) *channel.Channel {
	t.Helper()

	rt := NewRuntime(p, WithHeartbeatInterval(20*time.Millisecond))
	if configure != nil {
		configure(rt)
	}

	hostR, workerW := io.Pipe()
	workerR, hostW := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, workerR, workerW) }()

	ch := channel.New(p.ID(), hostR, hostW, hostW, logger.Nop())
	t.Cleanup(func() {
		_ = ch.Close(nil)
		cancel()
		_ = workerW.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	select {
	case <-ch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("worker never announced ready")
	}
	return ch
}

func initialize(t *testing.T, ch *channel.Channel, req InitRequest) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.Call(ctx, channel.MethodInitialize, req)
	return err
}

func TestRuntimeInitialize(t *testing.T) {
	p := &fakePlugin{}
	ch := startRuntime(t, p, nil)

	err := initialize(t, ch, InitRequest{
		Config:  map[string]any{"model": "base"},
		WorkDir: "/tmp/work",
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if p.inits != 1 {
		t.Fatalf("plugin initialized %d times", p.inits)
	}
	if p.gotCtx.WorkDir != "/tmp/work" || p.gotCtx.Config["model"] != "base" {
		t.Fatalf("plugin context %+v", p.gotCtx)
	}
}

func TestRuntimeInitializeFailure(t *testing.T) {
	p := &fakePlugin{initErr: fmt.Errorf("model file missing")}
	ch := startRuntime(t, p, nil)

	err := initialize(t, ch, InitRequest{})
	if errors.CodeOf(err) != errors.ErrCodeInitializationFailed {
		t.Fatalf("expected INITIALIZATION_FAILED, got %v", err)
	}
}

func TestRuntimeInitializeHooks(t *testing.T) {
	p := &fakePlugin{}
	var hookRuns int
	ch := startRuntime(t, p, func(rt *Runtime) {
		rt.OnInitialize(func(context.Context) error {
			if p.inits != 1 {
				t.Error("hook ran before the plugin's Initialize")
			}
			hookRuns++
			return nil
		})
	})

	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if hookRuns != 1 {
		t.Fatalf("hook ran %d times", hookRuns)
	}
}

func TestRuntimeInitializeHookFailure(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.OnInitialize(func(context.Context) error {
			return fmt.Errorf("model download failed")
		})
	})

	err := initialize(t, ch, InitRequest{})
	if errors.CodeOf(err) != errors.ErrCodeInitializationFailed {
		t.Fatalf("expected INITIALIZATION_FAILED, got %v", err)
	}

	// The runtime stays uninitialized after a failed hook.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, callErr := ch.Call(ctx, "anything", struct{}{})
	if errors.CodeOf(callErr) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT before successful initialize, got %v", callErr)
	}
}

func TestRuntimeDoubleInitialize(t *testing.T) {
	p := &fakePlugin{}
	ch := startRuntime(t, p, nil)

	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	err := initialize(t, ch, InitRequest{})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT on second initialize, got %v", err)
	}
	if p.inits != 1 {
		t.Fatalf("plugin initialized %d times", p.inits)
	}
}

func TestRuntimeCallBeforeInitialize(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
			return payload, nil
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.Call(ctx, "echo", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT before initialize, got %v", err)
	}
}

func TestRuntimeUnaryHandler(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
			var in map[string]string
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, errors.InvalidInput(err.Error())
			}
			return map[string]string{"echo": in["msg"]}, nil
		})
	})

	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := ch.Call(ctx, "echo", map[string]string{"msg": "hi"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil || out["echo"] != "hi" {
		t.Fatalf("result %s (err %v)", raw, err)
	}
}

func TestRuntimeHandlerError(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.Handle("boom", func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.ResourceExceeded("fake-echo", 2048, 1024)
		})
	})
	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.Call(ctx, "boom", struct{}{})
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeResourceExceeded {
		t.Fatalf("expected RESOURCE_EXCEEDED, got %v", err)
	}
	if !appErr.Retryable {
		t.Fatal("RESOURCE_EXCEEDED must stay retryable across the wire")
	}
}

func TestRuntimeUnknownMethod(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, nil)
	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.Call(ctx, "no-such-method", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestRuntimeStreamHandler(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.HandleStream("count", func(_ context.Context, _ json.RawMessage, sink *Sink) error {
			for i := 0; i < 3; i++ {
				if err := sink.Send(i); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	stream, err := ch.CallStream(context.Background(), "count", struct{}{})
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer stream.Close()

	var got []int
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		chunk, ok, err := stream.Next(ctx)
		cancel()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		var n int
		if err := json.Unmarshal(chunk, &n); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		got = append(got, n)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("chunks %v", got)
	}
}

func TestRuntimeStreamHandlerError(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, func(rt *Runtime) {
		rt.HandleStream("flaky", func(_ context.Context, _ json.RawMessage, sink *Sink) error {
			if err := sink.Send("partial"); err != nil {
				return err
			}
			return errors.Internal(fmt.Errorf("backend reset"))
		})
	})
	if err := initialize(t, ch, InitRequest{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	stream, err := ch.CallStream(context.Background(), "flaky", struct{}{})
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, ok, err := stream.Next(ctx); !ok || err != nil {
		t.Fatalf("expected partial chunk, ok=%v err=%v", ok, err)
	}
	_, ok, err := stream.Next(ctx)
	if ok || errors.CodeOf(err) != errors.ErrCodeInternal {
		t.Fatalf("expected INTERNAL_ERROR end, ok=%v err=%v", ok, err)
	}
}

func TestRuntimeHeartbeats(t *testing.T) {
	ch := startRuntime(t, &fakePlugin{}, nil)

	before := ch.LastFrame()
	time.Sleep(120 * time.Millisecond)
	if !ch.LastFrame().After(before) {
		t.Fatal("heartbeats did not advance the last frame time")
	}
}
