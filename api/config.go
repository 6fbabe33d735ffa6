package api

import (
	"fmt"
	"time"
)

// Config holds the API surface configuration.
type Config struct {
	// RequestTimeout bounds one model request end to end (e.g. "60s").
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout"`

	// DefaultWindowMinutes is the telemetry window used when a request
	// names no bounds.
	DefaultWindowMinutes int `yaml:"default_window_minutes" mapstructure:"default_window_minutes"`

	// AuthSecret is the HS256 signing secret for bearer tokens. Empty
	// disables authentication.
	AuthSecret string `yaml:"auth_secret" mapstructure:"auth_secret"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.RequestTimeout == "" {
		c.RequestTimeout = "60s"
	}
	if c.DefaultWindowMinutes == 0 {
		c.DefaultWindowMinutes = 10
	}
}

// Validate checks that required fields are parseable.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", c.RequestTimeout, err)
	}
	if d <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.DefaultWindowMinutes <= 0 {
		return fmt.Errorf("default_window_minutes must be positive, got %d", c.DefaultWindowMinutes)
	}
	return nil
}

func (c *Config) requestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

func (c *Config) defaultWindow() time.Duration {
	return time.Duration(c.DefaultWindowMinutes) * time.Minute
}
