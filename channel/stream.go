package channel

import (
	"context"
	"encoding/json"
)

// Stream is the host-side consumer of one streaming call. Chunks arrive in
// the order the worker produced them; a clean end yields (nil, false, nil)
// and a terminated stream surfaces its error after the queued chunks drain.
type Stream struct {
	ch     *Channel
	p      *pending
	id     string
	method string
}

// Next returns the next chunk payload. ok is false once the stream is
// exhausted; err is non-nil when the stream was terminated prematurely.
func (s *Stream) Next(ctx context.Context) (json.RawMessage, bool, error) {
	chunk, ok, appErr := s.p.next(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && !ok && appErr == nil {
		return nil, false, s.ch.ctxError(ctxErr, s.method)
	}
	if appErr != nil {
		return nil, false, appErr
	}
	return chunk, ok, nil
}

// Close abandons the stream. Chunks still queued are discarded and late
// frames for this call are dropped.
func (s *Stream) Close() error {
	s.ch.drop(s.id)
	s.p.finishEnd()
	return nil
}
