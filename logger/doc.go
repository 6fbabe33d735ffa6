// Package logger provides structured logging for streamsight using zerolog.
//
// It supports JSON and console output, log level configuration, and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("graph")
//	log.Info("snapshot built", logger.Fields("topology", topo, "ref", ref))
package logger
