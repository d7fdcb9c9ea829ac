// Package logger wraps zerolog with named component loggers and the standard
// field keys used across the Orbit host (provider id, satellite state, call
// id). Components receive a *Logger by reference; the process-wide logger is
// only touched at startup.
package logger
