// Package config provides configuration loading and validation for
// streamsight.
//
// It uses Viper to load configuration from a config.yml plus an optional
// .env overlay, with environment variables taking precedence. The top-level
// Config aggregates per-package sections (tracker, telemetry, graph, model,
// lock, server, api, observability), each validated by its own package.
//
// # Usage
//
//	var cfg config.Config
//	err := config.LoadConfig("streamsight", &cfg)
//	cfg.ApplyDefaults()
//	err = cfg.Validate()
package config
