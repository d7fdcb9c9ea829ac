// Package errors provides unified error handling for the Orbit plugin host.
// It implements structured error types with machine-readable codes, retryable
// detection, and HTTP status mapping for the admin API.
package errors
