package client

import (
	"github.com/NicolasHaas/mqchat/pkg/config"
	"github.com/NicolasHaas/mqchat/pkg/mailbox"
)

// Config holds client configuration, read from the environment.
type Config struct {
	KeyPath    string `env:"RELAY_KEY_PATH,default=/tmp" validate:"required"`
	KeyProject string `env:"RELAY_KEY_PROJECT,default=A" validate:"len=1"`
	LogLevel   string `env:"RELAY_LOG_LEVEL,default=warn" validate:"oneof=debug info warn warning error"`
	NoColor    bool   `env:"RELAY_NO_COLOR"`
}

// LoadConfig reads the client configuration from .env and the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Key resolves the well-known dispatcher key.
func (c Config) Key() (mailbox.Key, error) {
	project, err := config.ProjectByte(c.KeyProject)
	if err != nil {
		return 0, err
	}
	return mailbox.KeyFromPath(c.KeyPath, project)
}
