package app

import (
	"crmgate/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Silent discards all log output.
	Silent bool

	// ConfigFile and EnvFile override the default file locations.
	ConfigFile string
	EnvFile    string

	// Settings skips loading when set.
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configFile, envFile string) *Config {
	return &Config{
		Debug:      debug,
		ConfigFile: configFile,
		EnvFile:    envFile,
	}
}
