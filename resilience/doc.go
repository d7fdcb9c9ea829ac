// Package resilience provides the fault-handling primitives used by the
// satellite supervisor: exponential backoff with jitter, retry, and a sliding
// time-window fault counter for restart budgets.
package resilience
