// Package logger provides structured logging for discoverykit using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers carrying structured fields. Every discoverykit
// component receives a *Logger through its constructor.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.New(&cfg, "billing").WithComponent("reconciler")
//	log.Info("catalog updated", logger.Fields("service", "payments", "index", 42))
package logger
