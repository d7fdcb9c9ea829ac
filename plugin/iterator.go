package plugin

import "context"

// Iterator provides pull-based sequential access to a stream of values
// (e.g., generated audio chunks). The consumer calls Next() to retrieve
// values one at a time until exhaustion or error; clean end-of-stream is
// (zero, false, nil), premature termination is a non-nil error.
// Close must be called when done to release resources.
type Iterator[T any] interface {
	// Next returns the next value. Returns (zero, false, nil) when exhausted.
	Next(ctx context.Context) (T, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}
