package telemetry

import (
	"fmt"
	"time"
)

// Config selects and configures the metric store backend.
type Config struct {
	// Backend is one of "topologymaster", "tsdb" or "influx".
	Backend string `yaml:"backend" mapstructure:"backend"`

	// CacheDisabled turns off the window-keyed result cache.
	CacheDisabled bool `yaml:"cache_disabled" mapstructure:"cache_disabled"`

	TopologyMaster TopologyMasterConfig `yaml:"topologymaster" mapstructure:"topologymaster"`
	TSDB           TSDBConfig           `yaml:"tsdb" mapstructure:"tsdb"`
	Influx         InfluxConfig         `yaml:"influx" mapstructure:"influx"`
}

// TopologyMasterConfig points at the coordination service's metrics
// timeline endpoint.
type TopologyMasterConfig struct {
	// URL is the coordination service base URL.
	URL string `yaml:"url" mapstructure:"url"`

	// Timeout bounds each HTTP request (e.g. "10s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// TSDBConfig points at the aggregating time-series database.
type TSDBConfig struct {
	// URL is the database base URL. A "{zone}" placeholder is replaced
	// with the configured zone.
	URL string `yaml:"url" mapstructure:"url"`

	// Zone is the data centre the queries run against.
	Zone string `yaml:"zone" mapstructure:"zone"`

	// ServicePrefix namespaces topology services in the store.
	ServicePrefix string `yaml:"service_prefix" mapstructure:"service_prefix"`

	// ClientName identifies this service in the store's request logs.
	ClientName string `yaml:"client_name" mapstructure:"client_name"`

	// Granularity is the aggregation bucket, one of "h", "m" or "s".
	Granularity string `yaml:"granularity" mapstructure:"granularity"`

	// Timeout bounds each HTTP request (e.g. "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// InfluxConfig points at the InfluxQL server.
type InfluxConfig struct {
	// URL is the server base URL.
	URL string `yaml:"url" mapstructure:"url"`

	// Database is the database holding the topology measurements.
	Database string `yaml:"database" mapstructure:"database"`

	// Username and Password are optional; both must be set together.
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// Timeout bounds each HTTP request (e.g. "30s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendTopologyMaster
	}
	if c.TopologyMaster.Timeout == "" {
		c.TopologyMaster.Timeout = "10s"
	}
	if c.TSDB.ServicePrefix == "" {
		c.TSDB.ServicePrefix = "streams"
	}
	if c.TSDB.ClientName == "" {
		c.TSDB.ClientName = "streamsight"
	}
	if c.TSDB.Granularity == "" {
		c.TSDB.Granularity = "m"
	}
	if c.TSDB.Timeout == "" {
		c.TSDB.Timeout = "30s"
	}
	if c.Influx.Timeout == "" {
		c.Influx.Timeout = "30s"
	}
}

// Validate checks the selected backend's settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendTopologyMaster:
		if c.TopologyMaster.URL == "" {
			return fmt.Errorf("topologymaster url is required")
		}
		if _, err := time.ParseDuration(c.TopologyMaster.Timeout); err != nil {
			return fmt.Errorf("invalid topologymaster timeout %q: %w", c.TopologyMaster.Timeout, err)
		}
	case BackendTSDB:
		if c.TSDB.URL == "" {
			return fmt.Errorf("tsdb url is required")
		}
		if c.TSDB.Zone == "" {
			return fmt.Errorf("tsdb zone is required")
		}
		switch c.TSDB.Granularity {
		case "h", "m", "s":
		default:
			return fmt.Errorf("invalid tsdb granularity %q", c.TSDB.Granularity)
		}
		if _, err := time.ParseDuration(c.TSDB.Timeout); err != nil {
			return fmt.Errorf("invalid tsdb timeout %q: %w", c.TSDB.Timeout, err)
		}
	case BackendInflux:
		if c.Influx.URL == "" {
			return fmt.Errorf("influx url is required")
		}
		if c.Influx.Database == "" {
			return fmt.Errorf("influx database is required")
		}
		if (c.Influx.Username == "") != (c.Influx.Password == "") {
			return fmt.Errorf("influx username and password must be set together")
		}
		if _, err := time.ParseDuration(c.Influx.Timeout); err != nil {
			return fmt.Errorf("invalid influx timeout %q: %w", c.Influx.Timeout, err)
		}
	default:
		return fmt.Errorf("unknown telemetry backend %q", c.Backend)
	}
	return nil
}
