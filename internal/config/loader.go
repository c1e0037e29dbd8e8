package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crmgate/pkg/logging"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir      = ".config/crmgate"
	configFileName     = "config.yaml"
	defaultEnvFileName = ".env"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigPath returns ~/.config/crmgate/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadOptions selects the files Load reads.
type LoadOptions struct {
	// ConfigFile is the YAML file. Empty selects DefaultConfigPath; a missing
	// default file is not an error, a missing explicit file is.
	ConfigFile string

	// EnvFile is the dotenv file. Empty selects ".env" in the working
	// directory; a missing file is ignored.
	EnvFile string
}

// Load assembles the configuration from defaults, the YAML file and the
// environment. It does not validate; call Validate on the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := GetDefaultConfig()

	configFile := opts.ConfigFile
	explicit := configFile != ""
	if !explicit {
		var err error
		if configFile, err = DefaultConfigPath(); err != nil {
			logging.Warn("ConfigLoader", "%v, skipping config file", err)
			configFile = ""
		}
	}

	if configFile != "" {
		if err := loadYAML(configFile, explicit, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, NewConfigurationError("environment", "parse", "invalid environment override", err.Error())
	}

	cfg.normalize()
	return cfg, nil
}

func loadYAML(path string, explicit bool, cfg *Config) error {
	// #nosec G304 -- path comes from the command line or the user's home
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			logging.Debug("ConfigLoader", "No config file at %s, using defaults", path)
			return nil
		}
		return NewConfigurationError(path, "io", "cannot read config file", err.Error())
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return NewConfigurationError(path, "parse", "malformed YAML", err.Error(),
			"check indentation and that durations are quoted strings like \"10s\"")
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFileName
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return NewConfigurationError(path, "io", "cannot read env file", err.Error())
	}

	// godotenv.Load keeps variables that are already set.
	if err := godotenv.Load(path); err != nil {
		return NewConfigurationError(path, "parse", "malformed env file", err.Error())
	}
	logging.Debug("ConfigLoader", "Loaded environment from %s", path)
	return nil
}

// normalize trims values that users commonly paste with decoration.
func (c *Config) normalize() {
	domain := strings.TrimSpace(c.CRM.Domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	c.CRM.Domain = strings.TrimSuffix(domain, "/")

	c.CRM.ClientID = strings.TrimSpace(c.CRM.ClientID)
	c.CRM.ClientSecret = strings.TrimSpace(c.CRM.ClientSecret)
	c.CRM.RedirectURI = strings.TrimSpace(c.CRM.RedirectURI)

	if strings.HasPrefix(c.Storage.Path, "~/") {
		if home, err := osUserHomeDir(); err == nil {
			c.Storage.Path = filepath.Join(home, c.Storage.Path[2:])
		}
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}
