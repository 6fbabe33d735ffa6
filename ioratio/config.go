package ioratio

import (
	"fmt"
	"time"
)

// Config holds I/O coefficient estimator configuration.
type Config struct {
	// BucketLength is the aggregation bucket duration (e.g. "2m"). The
	// regression needs more buckets in the window than a task has input
	// columns, so shorter buckets support shorter windows.
	BucketLength string `yaml:"bucket_length" mapstructure:"bucket_length"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.BucketLength == "" {
		c.BucketLength = "2m"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	d, err := time.ParseDuration(c.BucketLength)
	if err != nil {
		return fmt.Errorf("invalid bucket_length %q: %w", c.BucketLength, err)
	}
	if d <= 0 {
		return fmt.Errorf("bucket_length must be positive, got %q", c.BucketLength)
	}
	return nil
}
