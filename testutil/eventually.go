package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond until it returns true or the timeout elapses.
// Supervision is asynchronous by design; tests assert on outcomes, not on
// internal scheduling.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
