package paths

import "fmt"

// Config holds path analyzer configuration.
type Config struct {
	// Workers bounds the number of source operators enumerated concurrently.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// Validate checks that required fields are usable.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
