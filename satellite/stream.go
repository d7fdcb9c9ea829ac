package satellite

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/skillsenselab/orbit/channel"
)

// Stream is a forward-only chunk sequence from one streaming call. The
// supervisor holds the satellite Busy until the stream reaches a terminal
// state, so consumers must drain or Close it.
type Stream struct {
	inner *channel.Stream
	once  sync.Once
	done  chan struct{}
}

func newStream(inner *channel.Stream) *Stream {
	return &Stream{inner: inner, done: make(chan struct{})}
}

// Next returns the next chunk. ok is false at end of stream; err is non-nil
// when the stream terminated prematurely (provider error or satellite
// fault).
func (st *Stream) Next(ctx context.Context) (json.RawMessage, bool, error) {
	chunk, ok, err := st.inner.Next(ctx)
	if !ok || err != nil {
		st.finish()
	}
	return chunk, ok, err
}

// Close abandons the stream and releases the satellite.
func (st *Stream) Close() error {
	err := st.inner.Close()
	st.finish()
	return err
}

func (st *Stream) finish() {
	st.once.Do(func() { close(st.done) })
}
