// Package worker is the runtime a provider binary runs inside. It speaks the
// channel wire protocol on stdin/stdout: announces readiness, emits
// heartbeats, handles the reserved initialize call, and dispatches
// capability methods to registered handlers.
//
// Stdout belongs to the protocol. Anything a provider wants to log must go
// to stderr; the host captures it.
//
// Calls are handled one at a time. Providers are not written for
// reentrancy, and the host enforces the same serialization on its side.
package worker
