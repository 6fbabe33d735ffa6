package queueing

import "fmt"

// Estimator names accepted by the configuration.
const (
	EstimatorMarkovian = "markovian"
	EstimatorGeneral   = "general"
)

// Config selects the queueing estimator.
type Config struct {
	// Estimator is the model used for waiting time predictions: "markovian"
	// assumes Poisson arrivals and exponential service, "general" uses the
	// measured variability of both processes.
	Estimator string `yaml:"estimator" mapstructure:"estimator"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Estimator == "" {
		c.Estimator = EstimatorMarkovian
	}
}

// Validate checks that the estimator name is known.
func (c *Config) Validate() error {
	switch c.Estimator {
	case EstimatorMarkovian, EstimatorGeneral:
		return nil
	default:
		return fmt.Errorf("unknown estimator %q, want %q or %q",
			c.Estimator, EstimatorMarkovian, EstimatorGeneral)
	}
}
