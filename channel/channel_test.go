package channel

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
)

// fakeWorker is the far end of a channel, scripted per test.
type fakeWorker struct {
	enc *Encoder
	dec *Decoder
	out *io.PipeWriter
}

func newTestChannel(t *testing.T) (*Channel, *fakeWorker) {
	t.Helper()
	hostR, workerOut := io.Pipe()
	workerIn, hostW := io.Pipe()

	ch := New("fake-provider", hostR, hostW, hostW, logger.Nop())
	w := &fakeWorker{
		enc: NewEncoder(workerOut),
		dec: NewDecoder(workerIn),
		out: workerOut,
	}
	t.Cleanup(func() {
		_ = ch.Close(nil)
		_ = w.out.Close()
	})
	return ch, w
}

func (w *fakeWorker) mustRead(t *testing.T) *Frame {
	t.Helper()
	f, err := w.dec.Decode()
	if err != nil {
		t.Fatalf("worker read: %v", err)
	}
	return f
}

func (w *fakeWorker) mustWrite(t *testing.T, f *Frame) {
	t.Helper()
	if err := w.enc.Encode(f); err != nil {
		t.Fatalf("worker write: %v", err)
	}
}

func TestChannelReady(t *testing.T) {
	ch, w := newTestChannel(t)

	select {
	case <-ch.Ready():
		t.Fatal("ready before worker announced")
	default:
	}

	w.mustWrite(t, &Frame{Kind: KindReady})

	select {
	case <-ch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("ready frame not observed")
	}
}

func TestChannelUnaryCall(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		f := w.mustRead(t)
		if f.Kind != KindCall || f.Method != "transcribe" {
			t.Errorf("unexpected call frame: kind=%s method=%s", f.Kind, f.Method)
		}
		w.mustWrite(t, &Frame{ID: f.ID, Kind: KindResult, Payload: json.RawMessage(`{"text":"hello"}`)})
	}()

	result, err := ch.Call(context.Background(), "transcribe", map[string]string{"audio": "x"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(result, &out); err != nil || out.Text != "hello" {
		t.Fatalf("unexpected result %s (err %v)", result, err)
	}
}

func TestChannelCallErrorFrame(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		f := w.mustRead(t)
		w.mustWrite(t, &Frame{ID: f.ID, Kind: KindError, Error: &errors.ErrorBody{
			Code:    errors.ErrCodeInvalidInput,
			Message: "audio is empty",
		}})
	}()

	_, err := ch.Call(context.Background(), "transcribe", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestChannelCallTimeout(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		f := w.mustRead(t)
		if f.DeadlineMS <= 0 {
			t.Error("deadline not forwarded to worker")
		}
		// never reply
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ch.Call(ctx, "transcribe", struct{}{})
	if errors.CodeOf(err) != errors.ErrCodeCallTimeout {
		t.Fatalf("expected CALL_TIMEOUT, got %v", err)
	}
}

func TestChannelStream(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		f := w.mustRead(t)
		for _, chunk := range []string{`"a"`, `"b"`, `"c"`} {
			w.mustWrite(t, &Frame{ID: f.ID, Kind: KindChunk, Payload: json.RawMessage(chunk)})
		}
		w.mustWrite(t, &Frame{ID: f.ID, Kind: KindEnd})
	}()

	stream, err := ch.CallStream(context.Background(), "speak", struct{}{})
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		chunk, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		var s string
		if err := json.Unmarshal(chunk, &s); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		got = append(got, s)
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected chunks %v", got)
	}
}

func TestChannelStreamErrorAfterChunks(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		f := w.mustRead(t)
		w.mustWrite(t, &Frame{ID: f.ID, Kind: KindChunk, Payload: json.RawMessage(`"a"`)})
		w.mustWrite(t, &Frame{ID: f.ID, Kind: KindError, Error: &errors.ErrorBody{
			Code:      errors.ErrCodeProviderCrashed,
			Message:   "synth backend died",
			Retryable: true,
		}})
	}()

	stream, err := ch.CallStream(context.Background(), "speak", struct{}{})
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	defer stream.Close()

	// The queued chunk is still delivered before the terminal error.
	if _, ok, err := stream.Next(context.Background()); !ok || err != nil {
		t.Fatalf("expected buffered chunk, ok=%v err=%v", ok, err)
	}
	_, ok, err := stream.Next(context.Background())
	if ok {
		t.Fatal("expected stream termination")
	}
	if errors.CodeOf(err) != errors.ErrCodeProviderCrashed {
		t.Fatalf("expected PROVIDER_CRASHED, got %v", err)
	}
}

func TestChannelDropsChunksForUnaryCall(t *testing.T) {
	c := &Channel{providerID: "fake-provider", calls: make(map[string]*pending), log: logger.Nop()}
	p := newPending(false)
	c.calls["c1"] = p

	// A misbehaving worker streams chunks at a unary call; nothing ever
	// drains them, so they must not queue.
	for i := 0; i < 3; i++ {
		c.dispatch(&Frame{ID: "c1", Kind: KindChunk, Payload: json.RawMessage(`"noise"`)})
	}
	p.mu.Lock()
	queued := len(p.chunks)
	p.mu.Unlock()
	if queued != 0 {
		t.Fatalf("unary call queued %d chunks", queued)
	}

	// The terminal frame still resolves the call normally.
	c.dispatch(&Frame{ID: "c1", Kind: KindResult, Payload: json.RawMessage(`{"ok":true}`)})
	result, appErr := p.waitResult(context.Background())
	if appErr != nil || string(result) != `{"ok":true}` {
		t.Fatalf("result %s (err %v)", result, appErr)
	}
}

func TestChannelCloseFailsInflight(t *testing.T) {
	ch, w := newTestChannel(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "transcribe", struct{}{})
		errCh <- err
	}()

	w.mustRead(t) // call is in flight
	_ = ch.Close(nil)

	select {
	case err := <-errCh:
		if errors.CodeOf(err) != errors.ErrCodeChannelClosed {
			t.Fatalf("expected CHANNEL_CLOSED, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail on close")
	}
}

func TestChannelWorkerEOFFailsInflight(t *testing.T) {
	ch, w := newTestChannel(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), "transcribe", struct{}{})
		errCh <- err
	}()

	w.mustRead(t)
	_ = w.out.Close() // worker stdout gone

	select {
	case err := <-errCh:
		if errors.CodeOf(err) != errors.ErrCodeChannelClosed {
			t.Fatalf("expected CHANNEL_CLOSED, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not fail on worker EOF")
	}
}

func TestChannelInterleavedCalls(t *testing.T) {
	ch, w := newTestChannel(t)

	go func() {
		first := w.mustRead(t)
		second := w.mustRead(t)
		// answer in reverse arrival order; correlation is by id, not arrival
		for _, f := range []*Frame{second, first} {
			var req struct {
				Q string `json:"q"`
			}
			if err := json.Unmarshal(f.Payload, &req); err != nil {
				t.Errorf("worker decode payload: %v", err)
				return
			}
			w.mustWrite(t, &Frame{ID: f.ID, Kind: KindResult, Payload: json.RawMessage(`"` + req.Q + `"`)})
		}
	}()

	type reply struct {
		want string
		got  json.RawMessage
		err  error
	}
	results := make(chan reply, 2)
	call := func(q string) {
		raw, err := ch.Call(context.Background(), "search", map[string]string{"q": q})
		results <- reply{want: `"` + q + `"`, got: raw, err: err}
	}
	go call("first")
	go call("second")

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("call %s: %v", r.want, r.err)
		}
		if string(r.got) != r.want {
			t.Fatalf("call %s got %s", r.want, r.got)
		}
	}
}

func TestChannelLateFrameAfterStreamClose(t *testing.T) {
	ch, w := newTestChannel(t)

	callFrames := make(chan *Frame, 1)
	go func() { callFrames <- w.mustRead(t) }()

	stream, err := ch.CallStream(context.Background(), "speak", struct{}{})
	if err != nil {
		t.Fatalf("call stream: %v", err)
	}
	f := <-callFrames
	_ = stream.Close()

	// Frames arriving after close are dropped, not delivered.
	w.mustWrite(t, &Frame{ID: f.ID, Kind: KindChunk, Payload: json.RawMessage(`"late"`)})
	w.mustWrite(t, &Frame{ID: f.ID, Kind: KindEnd})

	if _, ok, err := stream.Next(context.Background()); ok || err != nil {
		t.Fatalf("closed stream yielded ok=%v err=%v", ok, err)
	}
}
