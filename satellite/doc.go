// Package satellite supervises one provider worker process. A Supervisor
// owns its worker exclusively: it launches the process, establishes the
// wire channel, initializes the provider, forwards calls one at a time, and
// watches for the three failure classes (unexpected exit, stale heartbeat,
// memory ceiling breach).
//
// Faults tear the worker down, confirm its exit, and relaunch it under
// exponential backoff. Too many faults inside the sliding restart window
// terminate the satellite; a Terminated satellite answers every call with
// PROVIDER_UNAVAILABLE until an operator resets it. A sustained healthy run
// clears both backoff and the window, so transient trouble does not
// accumulate forever.
//
// All state transitions happen on a single goroutine. Callers hand requests
// over a rendezvous channel and block, bounded by their call deadline,
// until the satellite is ready to admit them.
package satellite
