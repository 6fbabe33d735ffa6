package model

import "fmt"

// Config bounds the orchestration concurrency.
type Config struct {
	// Workers caps how many requested models run at once.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
}

// Validate checks that required fields are usable.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
