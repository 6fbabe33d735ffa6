package lock

import (
	"fmt"
	"time"
)

// Config holds lock configuration. With Enabled false the in-process
// locker is used and the Redis fields are ignored.
type Config struct {
	// Enabled switches to the Redis-backed locker.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr" mapstructure:"addr"`

	// Password is the Redis server password.
	Password string `yaml:"password" mapstructure:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db" mapstructure:"db"`

	// TTL is the lease duration (e.g. "30s"). A crashed holder frees the
	// lock after at most this long.
	TTL string `yaml:"ttl" mapstructure:"ttl"`

	// RetryInterval is the poll interval while waiting for a held lock
	// (e.g. "100ms").
	RetryInterval string `yaml:"retry_interval" mapstructure:"retry_interval"`

	// DialTimeout is the timeout for establishing new connections (e.g. "5s").
	DialTimeout string `yaml:"dial_timeout" mapstructure:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads (e.g. "3s").
	ReadTimeout string `yaml:"read_timeout" mapstructure:"read_timeout"`

	// WriteTimeout is the timeout for socket writes (e.g. "3s").
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.TTL == "" {
		c.TTL = "30s"
	}
	if c.RetryInterval == "" {
		c.RetryInterval = "100ms"
	}
	if c.DialTimeout == "" {
		c.DialTimeout = "5s"
	}
	if c.ReadTimeout == "" {
		c.ReadTimeout = "3s"
	}
	if c.WriteTimeout == "" {
		c.WriteTimeout = "3s"
	}
}

// Validate checks that required fields are present and parseable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil // skip validation when disabled
	}
	if c.Addr == "" {
		return fmt.Errorf("lock addr is required")
	}
	if _, err := time.ParseDuration(c.TTL); err != nil {
		return fmt.Errorf("invalid ttl %q: %w", c.TTL, err)
	}
	if _, err := time.ParseDuration(c.RetryInterval); err != nil {
		return fmt.Errorf("invalid retry_interval %q: %w", c.RetryInterval, err)
	}
	if _, err := time.ParseDuration(c.DialTimeout); err != nil {
		return fmt.Errorf("invalid dial_timeout %q: %w", c.DialTimeout, err)
	}
	if _, err := time.ParseDuration(c.ReadTimeout); err != nil {
		return fmt.Errorf("invalid read_timeout %q: %w", c.ReadTimeout, err)
	}
	if _, err := time.ParseDuration(c.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write_timeout %q: %w", c.WriteTimeout, err)
	}
	return nil
}
