package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/orbit/errors"
	"github.com/skillsenselab/orbit/logger"
)

// Channel is the host side of one worker connection. It serializes call
// frames onto the worker's stdin and runs a single read loop over the
// worker's stdout, correlating response frames to in-flight calls.
type Channel struct {
	providerID string
	enc        *Encoder
	dec        *Decoder
	closer     io.Closer
	log        *logger.Logger

	mu       sync.Mutex
	calls    map[string]*pending
	closed   bool
	closeErr *errors.AppError

	readyOnce sync.Once
	readyCh   chan struct{}
	readDone  chan struct{}
	lastFrame atomic.Int64
}

// New creates a Channel over the worker's stdout (r) and stdin (w) and
// starts its read loop. closer, when non-nil, is closed together with the
// channel; pass the worker's stdin pipe so the worker sees EOF.
func New(providerID string, r io.Reader, w io.Writer, closer io.Closer, log *logger.Logger) *Channel {
	if log == nil {
		log = logger.Get("channel")
	}
	c := &Channel{
		providerID: providerID,
		enc:        NewEncoder(w),
		dec:        NewDecoder(r),
		closer:     closer,
		log:        log.WithProvider(providerID),
		calls:      make(map[string]*pending),
		readyCh:    make(chan struct{}),
		readDone:   make(chan struct{}),
	}
	c.touch()
	go c.readLoop()
	return c
}

// Ready returns a channel closed once the worker announced readiness.
func (c *Channel) Ready() <-chan struct{} { return c.readyCh }

// Done returns a channel closed when the read loop exits, i.e. the worker's
// stdout closed or the channel was closed locally.
func (c *Channel) Done() <-chan struct{} { return c.readDone }

// LastFrame returns the time the most recent frame of any kind arrived.
// Any frame proves the worker is alive, not just heartbeats.
func (c *Channel) LastFrame() time.Time {
	return time.Unix(0, c.lastFrame.Load())
}

// Call performs a unary invocation and blocks until the worker responds,
// the context expires, or the channel closes. A context deadline is
// forwarded to the worker as the call budget.
func (c *Channel) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	p, id, err := c.send(ctx, method, payload, false)
	if err != nil {
		return nil, err
	}

	result, appErr := p.waitResult(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && appErr == nil && result == nil {
		c.drop(id)
		return nil, c.ctxError(ctxErr, method)
	}
	if appErr != nil {
		return nil, appErr
	}
	return result, nil
}

// CallStream performs a streaming invocation. The returned Stream yields
// chunk payloads in order; callers must Close it when done.
func (c *Channel) CallStream(ctx context.Context, method string, payload any) (*Stream, error) {
	p, id, err := c.send(ctx, method, payload, true)
	if err != nil {
		return nil, err
	}
	return &Stream{ch: c, p: p, id: id, method: method}, nil
}

// Close tears the channel down. Every in-flight call fails with
// CHANNEL_CLOSED; cause, when it is an AppError, is used instead so callers
// see why the worker went away.
func (c *Channel) Close(cause error) error {
	appErr, ok := errors.AsAppError(cause)
	if !ok {
		appErr = errors.ChannelClosed(c.providerID)
	}
	c.failAll(appErr)

	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *Channel) send(ctx context.Context, method string, payload any, stream bool) (*pending, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", errors.InvalidInput(fmt.Sprintf("encode %s payload: %v", method, err))
	}

	var deadlineMS int64
	if deadline, ok := ctx.Deadline(); ok {
		deadlineMS = time.Until(deadline).Milliseconds()
		if deadlineMS <= 0 {
			return nil, "", c.ctxError(context.DeadlineExceeded, method)
		}
	}

	id := uuid.NewString()
	p := newPending(stream)

	c.mu.Lock()
	if c.closed {
		closeErr := c.closeErr
		c.mu.Unlock()
		return nil, "", closeErr
	}
	c.calls[id] = p
	c.mu.Unlock()

	frame := &Frame{ID: id, Kind: KindCall, Method: method, Payload: raw, DeadlineMS: deadlineMS}
	if err := c.enc.Encode(frame); err != nil {
		c.drop(id)
		return nil, "", errors.ChannelClosed(c.providerID).WithCause(err)
	}
	return p, id, nil
}

func (c *Channel) ctxError(ctxErr error, method string) error {
	if ctxErr == context.DeadlineExceeded {
		return errors.CallTimeout(c.providerID, method)
	}
	return ctxErr
}

// drop forgets an in-flight call. Late frames with its id are discarded by
// the read loop.
func (c *Channel) drop(id string) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Channel) touch() {
	c.lastFrame.Store(time.Now().UnixNano())
}

func (c *Channel) readLoop() {
	defer close(c.readDone)
	for {
		f, err := c.dec.Decode()
		if err != nil {
			if err != io.EOF {
				c.log.Debug("channel read ended", logger.ErrorFields("read_frame", err))
			}
			c.failAll(errors.ChannelClosed(c.providerID))
			return
		}
		c.touch()
		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f *Frame) {
	switch f.Kind {
	case KindReady:
		c.readyOnce.Do(func() { close(c.readyCh) })
		return
	case KindHeartbeat:
		return
	}

	c.mu.Lock()
	p, ok := c.calls[f.ID]
	if ok && f.Kind != KindChunk {
		delete(c.calls, f.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("frame for unknown call", map[string]interface{}{
			logger.FieldCallID: f.ID,
			"kind":             string(f.Kind),
		})
		return
	}

	switch f.Kind {
	case KindChunk:
		// A unary call has no consumer for chunks; queueing them would
		// grow until the terminal frame with nothing ever draining.
		if !p.streaming {
			c.log.Debug("chunk frame for unary call dropped", map[string]interface{}{
				logger.FieldCallID: f.ID,
			})
			return
		}
		p.pushChunk(f.Payload)
	case KindResult:
		p.finishResult(f.Payload)
	case KindEnd:
		p.finishEnd()
	case KindError:
		p.fail(f.AppError(c.providerID))
	default:
		p.fail(errors.Internal(fmt.Errorf("unexpected frame kind %q", f.Kind)))
	}
}

func (c *Channel) failAll(appErr *errors.AppError) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = appErr
	calls := c.calls
	c.calls = make(map[string]*pending)
	c.mu.Unlock()

	for _, p := range calls {
		p.fail(appErr)
	}
}
