package observability

import (
	"context"
	"fmt"
	"time"
)

// Config enables and points the OTLP exporters. With Enabled false the
// global noop providers stay in place and Init is a no-op.
type Config struct {
	// Enabled turns exporting on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Endpoint is the OTLP HTTP collector host:port.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Insecure allows plaintext collector connections.
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`

	// SampleRate is the trace sampling rate in [0, 1].
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`

	// IntervalSeconds is the metric export interval.
	IntervalSeconds int `yaml:"interval_seconds" mapstructure:"interval_seconds"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 15
	}
}

// Validate checks the exporter settings.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("observability endpoint is required when enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0, 1], got %v", c.SampleRate)
	}
	if c.IntervalSeconds <= 0 {
		return fmt.Errorf("interval_seconds must be positive, got %d", c.IntervalSeconds)
	}
	return nil
}

// Init starts the tracer and meter providers and returns a hook that flushes
// and stops both. When the config is disabled the returned hook is a no-op.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion, environment string) (func(context.Context) error, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := InitTracer(ctx, TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    environment,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	mp, err := InitMeter(ctx, MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    environment,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		Interval:       time.Duration(cfg.IntervalSeconds) * time.Second,
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		merr := mp.Shutdown(ctx)
		terr := tp.Shutdown(ctx)
		if merr != nil {
			return merr
		}
		return terr
	}, nil
}
