package worker

import (
	"encoding/json"
	"fmt"

	"github.com/skillsenselab/orbit/channel"
)

// Sink delivers one stream's chunks back to the host, in order.
type Sink struct {
	enc *channel.Encoder
	id  string
}

// Send emits one chunk. A write error means the host is gone; the handler
// should stop producing.
func (s *Sink) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("worker: encode chunk: %w", err)
	}
	return s.enc.Encode(&channel.Frame{ID: s.id, Kind: channel.KindChunk, Payload: raw})
}
