// Package observability initializes OpenTelemetry tracing and metrics
// (OTLP over HTTP) and exposes the instruments the router and satellite
// supervisors record into: call counts and durations, satellite faults and
// restarts by reason, and sampled worker memory.
//
// All recording helpers are nil-safe so components can run without metrics
// wired (tests, minimal hosts).
package observability
