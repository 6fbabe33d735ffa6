package recommend

import "fmt"

// Config holds the bottleneck thresholds.
type Config struct {
	// CPULoadThreshold is the per-core load above which an instance counts
	// as CPU bound.
	CPULoadThreshold float64 `yaml:"cpu_load_threshold" mapstructure:"cpu_load_threshold"`

	// GCTimeThresholdMS is the garbage collection time per store interval,
	// in milliseconds, above which an instance counts as memory bound.
	GCTimeThresholdMS float64 `yaml:"gc_time_threshold_ms" mapstructure:"gc_time_threshold_ms"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.CPULoadThreshold == 0 {
		c.CPULoadThreshold = 0.7
	}
	if c.GCTimeThresholdMS == 0 {
		c.GCTimeThresholdMS = 500
	}
}

// Validate checks the thresholds.
func (c *Config) Validate() error {
	if c.CPULoadThreshold <= 0 {
		return fmt.Errorf("cpu_load_threshold must be positive, got %v", c.CPULoadThreshold)
	}
	if c.GCTimeThresholdMS <= 0 {
		return fmt.Errorf("gc_time_threshold_ms must be positive, got %v", c.GCTimeThresholdMS)
	}
	return nil
}
