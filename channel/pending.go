package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/skillsenselab/orbit/errors"
)

// pending is the host-side state of one in-flight call. The read loop
// appends chunks and marks the terminal frame; the caller drains on the
// other side. Only streaming calls queue chunks; the dispatch path drops
// chunk frames for unary calls. The queue is unbounded on purpose: if a
// slow consumer could make the read loop block, one stalled stream would
// starve heartbeat frames for the whole channel.
type pending struct {
	streaming bool

	mu     sync.Mutex
	wake   chan struct{}
	chunks []json.RawMessage
	result json.RawMessage
	err    *errors.AppError
	done   bool
}

func newPending(streaming bool) *pending {
	return &pending{streaming: streaming, wake: make(chan struct{})}
}

// signal wakes all current waiters. Callers hold p.mu.
func (p *pending) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *pending) pushChunk(payload json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.chunks = append(p.chunks, payload)
	p.signal()
}

func (p *pending) finishResult(payload json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.result = payload
	p.done = true
	p.signal()
}

func (p *pending) finishEnd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.signal()
}

func (p *pending) fail(appErr *errors.AppError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.err = appErr
	p.done = true
	p.signal()
}

// waitResult blocks until the call reaches a terminal frame. Used by unary
// calls; chunk frames for those never reach the queue.
func (p *pending) waitResult(ctx context.Context) (json.RawMessage, *errors.AppError) {
	for {
		p.mu.Lock()
		if p.done {
			result, err := p.result, p.err
			p.mu.Unlock()
			return result, err
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, nil
		}
	}
}

// next returns the next queued chunk. Exhaustion after a clean end is
// (nil, false, nil); an error terminal surfaces once the queue drains.
func (p *pending) next(ctx context.Context) (json.RawMessage, bool, *errors.AppError) {
	for {
		p.mu.Lock()
		if len(p.chunks) > 0 {
			chunk := p.chunks[0]
			p.chunks = p.chunks[1:]
			p.mu.Unlock()
			return chunk, true, nil
		}
		if p.done {
			err := p.err
			p.mu.Unlock()
			return nil, false, err
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false, nil
		}
	}
}
