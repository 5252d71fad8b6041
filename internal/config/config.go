// Package config loads server configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServerConfig configures the collection server. CLI flags override these
// values when set.
type ServerConfig struct {
	DBPath    string `env:"NUDGE_DB_PATH" envDefault:"./nudge.db"`
	Port      int    `env:"NUDGE_PORT" envDefault:"8080"`
	TokenFile string `env:"NUDGE_TOKEN_FILE" envDefault:".nudge-token"`
}

// LoadServer parses the server configuration from the environment.
func LoadServer() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
