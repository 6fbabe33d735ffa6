package tracker

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds coordination service connection configuration.
type Config struct {
	// URL is the base URL of the coordination service.
	URL string `yaml:"url" mapstructure:"url"`

	// Timeout bounds each request (e.g. "10s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == "" {
		c.Timeout = "10s"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("tracker url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid tracker url %q: %w", c.URL, err)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
