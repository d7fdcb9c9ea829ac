package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures exponential backoff.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	// Max caps the delay between retries.
	Max time.Duration `yaml:"max" mapstructure:"max"`
	// Factor is the multiplier applied per consecutive failure.
	Factor float64 `yaml:"factor" mapstructure:"factor"`
	// Jitter adds randomness to each delay (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
}

// ApplyDefaults fills unset fields with sensible defaults.
func (c *BackoffConfig) ApplyDefaults() {
	if c.Initial <= 0 {
		c.Initial = 100 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
}

// Backoff produces a non-decreasing sequence of delays (modulo jitter) for
// consecutive failures. Not safe for concurrent use; each owner keeps its own.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
}

// NewBackoff creates a Backoff from config.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg.ApplyDefaults()
	return &Backoff{cfg: cfg}
}

// Next returns the delay for the next retry and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return Delay(b.attempt, b.cfg)
}

// Attempt returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset restarts the sequence. Called after a sustained healthy period.
func (b *Backoff) Reset() { b.attempt = 0 }

// Delay computes the backoff delay for the given attempt (1-based).
func Delay(attempt int, cfg BackoffConfig) time.Duration {
	cfg.ApplyDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := float64(cfg.Initial) * math.Pow(cfg.Factor, float64(attempt-1))
	if d > float64(cfg.Max) {
		d = float64(cfg.Max)
	}

	if cfg.Jitter > 0 {
		jitterRange := d * cfg.Jitter
		d += (rand.Float64()*2 - 1) * jitterRange
	}

	if d < 0 {
		d = float64(cfg.Initial)
	}
	if d > float64(cfg.Max) {
		d = float64(cfg.Max)
	}
	return time.Duration(d)
}
