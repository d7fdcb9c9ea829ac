// Package testutil provides in-process fakes for supervision tests. A
// ScriptedWorker satisfies satellite.Worker over in-memory pipes, so crash,
// timeout, memory-growth, and restart behavior can be exercised without
// real OS processes.
package testutil
