package resilience

import "time"

// Window counts events inside a sliding time span. The satellite supervisor
// uses it as the restart budget: faults older than the span stop counting
// against the provider. Not safe for concurrent use; each owner keeps its own.
type Window struct {
	span  time.Duration
	times []time.Time
}

// NewWindow creates a sliding window of the given span.
// A non-positive span means events never expire.
func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// Add records an event at time now.
func (w *Window) Add(now time.Time) {
	w.prune(now)
	w.times = append(w.times, now)
}

// Count returns the number of events still inside the window at time now.
func (w *Window) Count(now time.Time) int {
	w.prune(now)
	return len(w.times)
}

// Reset drops all recorded events.
func (w *Window) Reset() {
	w.times = w.times[:0]
}

func (w *Window) prune(now time.Time) {
	if w.span <= 0 {
		return
	}
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}
