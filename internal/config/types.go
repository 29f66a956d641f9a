package config

import "time"

// Config represents the complete foreman configuration.
type Config struct {
	Worker WorkerConfig `yaml:"worker"`
	State  StateConfig  `yaml:"state"`
	API    APIConfig    `yaml:"api,omitempty"`
}

// WorkerConfig defines core worker settings.
type WorkerConfig struct {
	// Hostname is the worker identity on the control channel. Defaults to
	// "worker@<os hostname>".
	Hostname string `yaml:"hostname"`

	// Concurrency is the initial task pool size.
	Concurrency int `yaml:"concurrency"`

	LogLevel string `yaml:"log_level"`

	// RevokedRetention bounds how long revoked task ids are kept.
	RevokedRetention time.Duration `yaml:"revoked_retention"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the admin HTTP server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines admin API authentication settings.
type APIAuthConfig struct {
	// APIKey is the bearer token required on every request except health.
	APIKey string `yaml:"api_key"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			Concurrency:      4,
			LogLevel:         "info",
			RevokedRetention: 7 * 24 * time.Hour,
		},
		State: StateConfig{
			Path: "./data/worker.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
	}
}
