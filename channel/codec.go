package channel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single wire frame. Payloads above this indicate a
// misbehaving worker rather than legitimate traffic.
const maxFrameSize = 64 << 20

// Encoder writes frames as newline-delimited JSON. Safe for concurrent use;
// a frame is always written as one contiguous line.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one frame followed by a newline.
func (e *Encoder) Encode(f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited JSON frames. Not safe for concurrent use;
// a channel has exactly one reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10)}
}

// Decode reads the next frame. Returns io.EOF when the stream ends cleanly
// at a frame boundary.
func (d *Decoder) Decode() (*Frame, error) {
	line, err := d.readLine()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := d.r.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = append(line, part...)
		if len(line) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameSize)
		}
		if !isPrefix {
			return line, nil
		}
	}
}
