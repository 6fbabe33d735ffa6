package config

import (
	"fmt"

	"github.com/kbukum/streamsight/api"
	"github.com/kbukum/streamsight/ioratio"
	"github.com/kbukum/streamsight/lock"
	"github.com/kbukum/streamsight/model"
	"github.com/kbukum/streamsight/observability"
	"github.com/kbukum/streamsight/paths"
	"github.com/kbukum/streamsight/queueing"
	"github.com/kbukum/streamsight/recommend"
	"github.com/kbukum/streamsight/server"
	"github.com/kbukum/streamsight/telemetry"
	"github.com/kbukum/streamsight/tracker"
	"github.com/kbukum/streamsight/traffic"
)

// Config is the full service configuration, one section per package. It is
// loaded once in main via LoadConfig and handed out by section.
type Config struct {
	Service       ServiceConfig         `yaml:"service" mapstructure:"service"`
	Server        server.Config         `yaml:"server" mapstructure:"server"`
	API           api.Config            `yaml:"api" mapstructure:"api"`
	Tracker       tracker.Config        `yaml:"tracker" mapstructure:"tracker"`
	Telemetry     telemetry.Config      `yaml:"telemetry" mapstructure:"telemetry"`
	Lock          lock.Config           `yaml:"lock" mapstructure:"lock"`
	IORatio       ioratio.Config        `yaml:"ioratio" mapstructure:"ioratio"`
	Queueing      queueing.Config       `yaml:"queueing" mapstructure:"queueing"`
	Paths         paths.Config          `yaml:"paths" mapstructure:"paths"`
	Recommend     recommend.Config      `yaml:"recommend" mapstructure:"recommend"`
	Traffic       traffic.SummaryConfig `yaml:"traffic" mapstructure:"traffic"`
	Model         model.Config          `yaml:"model" mapstructure:"model"`
	Observability observability.Config  `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults applies the defaults of every section.
func (c *Config) ApplyDefaults() {
	c.Service.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.API.ApplyDefaults()
	c.Tracker.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
	c.Lock.ApplyDefaults()
	c.IORatio.ApplyDefaults()
	c.Queueing.ApplyDefaults()
	c.Paths.ApplyDefaults()
	c.Recommend.ApplyDefaults()
	c.Traffic.ApplyDefaults()
	c.Model.ApplyDefaults()
	c.Observability.ApplyDefaults()
}

// Validate validates every section and names the failing one.
func (c *Config) Validate() error {
	sections := []struct {
		name     string
		validate func() error
	}{
		{"service", c.Service.Validate},
		{"server", c.Server.Validate},
		{"api", c.API.Validate},
		{"tracker", c.Tracker.Validate},
		{"telemetry", c.Telemetry.Validate},
		{"lock", c.Lock.Validate},
		{"ioratio", c.IORatio.Validate},
		{"queueing", c.Queueing.Validate},
		{"paths", c.Paths.Validate},
		{"recommend", c.Recommend.Validate},
		{"traffic", c.Traffic.Validate},
		{"model", c.Model.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, s := range sections {
		if err := s.validate(); err != nil {
			return fmt.Errorf("config.%s: %w", s.name, err)
		}
	}
	return nil
}
