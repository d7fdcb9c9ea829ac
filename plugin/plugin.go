package plugin

import "context"

// Plugin is the base contract every capability provider must implement.
// It runs worker-side; the host only ever sees the Descriptor.
type Plugin interface {
	// ID returns the provider's unique, stable identifier (e.g. "stt.whisper").
	ID() string
	// Name returns the human-readable display name.
	Name() string
	// Category returns the capability category.
	Category() Category
	// ConfigSchema returns a struct prototype whose `validate` tags describe
	// acceptable configuration, or nil if the provider takes none.
	ConfigSchema() any
	// Initialize performs side-effecting setup with the validated
	// configuration. Failure marks the provider unusable for this worker.
	Initialize(ctx context.Context, pctx Context) error
}

// Context carries everything a provider may rely on during Initialize.
// Providers must not assume access to any host state beyond this.
type Context struct {
	// Config is the caller-supplied configuration, already validated against
	// the descriptor's schema.
	Config map[string]any
	// WorkDir is a scratch directory private to this worker instance.
	WorkDir string
}
