package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, parses and validates a config file. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Worker.Hostname == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("derive hostname: %w", err)
		}
		c.Worker.Hostname = "worker@" + host
	}
	return nil
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.RevokedRetention < 0 {
		return fmt.Errorf("config: worker.revoked_retention must not be negative")
	}
	if c.State.Path == "" {
		return fmt.Errorf("config: state.path is required")
	}
	if c.API.Enabled {
		if c.API.Listen == "" {
			return fmt.Errorf("config: api.listen is required when api.enabled")
		}
		if c.API.Auth.APIKey == "" {
			return fmt.Errorf("config: api.auth.api_key is required when api.enabled")
		}
	}
	return nil
}
