package host

import (
	"fmt"

	"github.com/skillsenselab/orbit/auth"
	"github.com/skillsenselab/orbit/config"
	"github.com/skillsenselab/orbit/satellite"
	"github.com/skillsenselab/orbit/server"
)

// Config is the full configuration of a provider host.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	// PluginDir is scanned for provider worker binaries at startup.
	PluginDir string `yaml:"plugin_dir" mapstructure:"plugin_dir"`
	// WorkDir is the base scratch directory handed to workers.
	WorkDir string `yaml:"work_dir" mapstructure:"work_dir"`

	// Satellite is the supervision policy applied to every provider.
	Satellite satellite.Config `yaml:"satellite" mapstructure:"satellite"`
	// Providers holds per-provider configuration, keyed by provider id,
	// validated against each provider's schema before its worker starts.
	Providers map[string]map[string]any `yaml:"providers" mapstructure:"providers"`

	Server    server.Config   `yaml:"server" mapstructure:"server"`
	Auth      auth.Config     `yaml:"auth" mapstructure:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// TelemetryConfig gates OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// ApplyDefaults fills unset fields across all sections.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "orbit-host"
	}
	c.ServiceConfig.ApplyDefaults()
	if c.PluginDir == "" {
		c.PluginDir = "plugins"
	}
	if c.WorkDir == "" {
		c.WorkDir = "work"
	}
	c.Satellite.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Auth.ApplyDefaults()
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
}

// Validate rejects configurations the host cannot run with.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Satellite.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if c.Server.Enabled && c.Auth.Enabled && c.Auth.Secret == "" && c.Auth.PrivateKey == nil {
		return fmt.Errorf("auth.secret is required when the admin server is authenticated")
	}
	return nil
}

// LoadConfig reads the host configuration from config files and environment
// variables using the standard search paths.
func LoadConfig(serviceName string, opts ...config.LoaderOption) (*Config, error) {
	cfg := &Config{}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}
