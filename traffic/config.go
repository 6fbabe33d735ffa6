package traffic

import "fmt"

// SummaryConfig tunes the descriptive statistics traffic model.
type SummaryConfig struct {
	// DefaultHours is the stretch of history summarized when a request
	// does not name one. The coordination service keeps roughly three
	// hours of metrics, so the default should not exceed that.
	DefaultHours int `yaml:"default_hours" mapstructure:"default_hours"`

	// Quantiles are the percentile points reported beside the moments,
	// each in the open interval (0, 100).
	Quantiles []int `yaml:"quantiles" mapstructure:"quantiles"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *SummaryConfig) ApplyDefaults() {
	if c.DefaultHours == 0 {
		c.DefaultHours = 3
	}
	if len(c.Quantiles) == 0 {
		c.Quantiles = []int{10, 90, 95, 99}
	}
}

// Validate checks the summary settings.
func (c *SummaryConfig) Validate() error {
	if c.DefaultHours <= 0 {
		return fmt.Errorf("default_hours must be positive, got %d", c.DefaultHours)
	}
	for _, q := range c.Quantiles {
		if q <= 0 || q >= 100 {
			return fmt.Errorf("quantile %d is outside (0, 100)", q)
		}
	}
	return nil
}
