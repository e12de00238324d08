package bootstrap

import (
	"github.com/kbukum/discoverykit/config"
)

// Config constrains the App's config type. Embedding config.ServiceConfig
// by value provides all three methods; agents override ApplyDefaults and
// Validate to cover their own sections and call the embedded ones first.
//
//	type AgentConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Discovery discovery.Config `yaml:"discovery" mapstructure:"discovery"`
//	}
//
//	app, err := bootstrap.NewApp(&agentCfg)
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
