package satellite

import (
	"fmt"
	"time"

	"github.com/skillsenselab/orbit/resilience"
)

// Config holds one satellite's supervision policy. Numeric thresholds carry
// no hard-coded policy meaning; deployments tune them per provider.
type Config struct {
	// StartupTimeout bounds launch, readiness, and provider initialization
	// together.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	// CallTimeout is the default call budget applied when the caller's
	// context carries no deadline.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	// TerminateGrace is how long a worker gets between SIGTERM and SIGKILL.
	TerminateGrace time.Duration `yaml:"terminate_grace" mapstructure:"terminate_grace"`

	// HeartbeatInterval is the liveness check cadence.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	// HeartbeatTimeout faults the worker when no frame arrived for this
	// long. Zero disables the check.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`

	// SampleInterval is the memory probe cadence.
	SampleInterval time.Duration `yaml:"sample_interval" mapstructure:"sample_interval"`
	// MemoryLimit is the worker RSS ceiling in bytes. Zero disables the
	// probe.
	MemoryLimit uint64 `yaml:"memory_limit" mapstructure:"memory_limit"`

	// MaxRestarts is how many faults the sliding window tolerates before
	// the satellite terminates.
	MaxRestarts int `yaml:"max_restarts" mapstructure:"max_restarts"`
	// RestartWindow is the sliding window span for MaxRestarts.
	RestartWindow time.Duration `yaml:"restart_window" mapstructure:"restart_window"`
	// HealthyReset clears backoff and the restart window after the worker
	// has been continuously healthy for this long. Zero disables the reset.
	HealthyReset time.Duration `yaml:"healthy_reset" mapstructure:"healthy_reset"`
	// Backoff shapes the delay between relaunches.
	Backoff resilience.BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

// ApplyDefaults fills unset fields with workable defaults.
func (c *Config) ApplyDefaults() {
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.TerminateGrace == 0 {
		c.TerminateGrace = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = 3
	}
	if c.RestartWindow == 0 {
		c.RestartWindow = time.Minute
	}
	if c.HealthyReset == 0 {
		c.HealthyReset = 30 * time.Second
	}
	c.Backoff.ApplyDefaults()
}

// Validate rejects configurations the supervisor cannot run with.
func (c *Config) Validate() error {
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("satellite: startup_timeout must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("satellite: call_timeout must be positive")
	}
	if c.HeartbeatTimeout > 0 && c.HeartbeatTimeout < c.HeartbeatInterval {
		return fmt.Errorf("satellite: heartbeat_timeout must be at least heartbeat_interval")
	}
	if c.MaxRestarts < 0 {
		return fmt.Errorf("satellite: max_restarts must not be negative")
	}
	return nil
}
