// Package config loads agent configuration from a YAML file, an optional
// .env file and environment variables.
//
// # Usage
//
//	var cfg AgentConfig
//	err := config.LoadConfig("discovery-agent", &cfg, config.WithEnvPrefix("AGENT"))
//
// Every key of the target struct can be overridden from the environment:
// the mapstructure path is upper-cased, dots become underscores and the
// prefix is prepended, e.g. AGENT_DISCOVERY_REGISTRATION_SERVICE_PORT.
package config
