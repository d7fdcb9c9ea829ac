package resilience

import (
	"testing"
	"time"
)

func TestDelayIsNonDecreasingWithoutJitter(t *testing.T) {
	cfg := BackoffConfig{
		Initial: 10 * time.Millisecond,
		Max:     time.Second,
		Factor:  2.0,
	}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := Delay(attempt, cfg)
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayIsCapped(t *testing.T) {
	cfg := BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     500 * time.Millisecond,
		Factor:  3.0,
	}
	if d := Delay(20, cfg); d > cfg.Max {
		t.Fatalf("delay %v exceeds cap %v", d, cfg.Max)
	}
}

func TestDelayJitterStaysWithinCap(t *testing.T) {
	cfg := BackoffConfig{
		Initial: 100 * time.Millisecond,
		Max:     time.Second,
		Factor:  2.0,
		Jitter:  0.5,
	}
	for i := 0; i < 100; i++ {
		d := Delay(8, cfg)
		if d < 0 || d > cfg.Max {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Max: time.Second, Factor: 2.0})
	first := b.Next()
	b.Next()
	b.Next()
	if b.Attempt() != 3 {
		t.Fatalf("expected 3 attempts, got %d", b.Attempt())
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Fatal("expected attempt counter reset")
	}
	if d := b.Next(); d != first {
		t.Fatalf("after reset expected %v, got %v", first, d)
	}
}

func TestWindowExpiresOldEvents(t *testing.T) {
	w := NewWindow(time.Minute)
	base := time.Now()
	w.Add(base)
	w.Add(base.Add(10 * time.Second))
	if got := w.Count(base.Add(30 * time.Second)); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	// first event falls out of the window
	if got := w.Count(base.Add(70 * time.Second)); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}
	if got := w.Count(base.Add(2 * time.Hour)); got != 0 {
		t.Fatalf("expected 0 events, got %d", got)
	}
}

func TestWindowZeroSpanNeverExpires(t *testing.T) {
	w := NewWindow(0)
	base := time.Now()
	w.Add(base)
	w.Add(base.Add(time.Hour))
	if got := w.Count(base.Add(100 * time.Hour)); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
}
