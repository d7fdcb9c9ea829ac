package process

import (
	"time"
)

// defaultGrace bounds the SIGTERM to SIGKILL escalation when the caller
// does not set one.
const defaultGrace = 5 * time.Second

// Command configures a subprocess, either a one-shot Run (discovery
// handshakes with worker binaries) or a long-lived Start (the workers
// themselves).
type Command struct {
	// Binary is the executable path or name (resolved via PATH).
	Binary string
	// Args are the command-line arguments.
	Args []string
	// Dir is the working directory. If empty, uses the current directory.
	Dir string
	// Env is additional environment variables (key=value). Merged with os.Environ.
	Env []string
	// GracePeriod is how long Run waits after SIGTERM before SIGKILL when
	// its context is canceled. Zero means defaultGrace. Handles take the
	// grace per Terminate call instead.
	GracePeriod time.Duration
}
