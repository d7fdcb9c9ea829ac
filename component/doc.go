// Package component defines the lifecycle contract for host infrastructure
// (the capability router, the admin server) and a registry that starts
// components in registration order and stops them in reverse.
package component
