package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"crmgate/internal/config"
	"crmgate/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs the gateway.
//
// Example usage:
//
//	cfg := app.NewConfig(false, "", "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close()
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, initializes logging and wires all
// services. Invalid configuration is reported as config.ValidationErrors.
func NewApplication(cfg *Config) (*Application, error) {
	settings, err := loadSettings(cfg)
	if err != nil {
		return nil, err
	}

	initLogging(cfg, settings)

	if err := settings.Validate(); err != nil {
		logging.Error("Bootstrap", err, "Invalid configuration")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	services, err := InitializeServices(settings)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func loadSettings(cfg *Config) (config.Config, error) {
	if cfg.Settings != nil {
		return *cfg.Settings, nil
	}

	settings, err := config.Load(config.LoadOptions{
		ConfigFile: cfg.ConfigFile,
		EnvFile:    cfg.EnvFile,
	})
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return settings, nil
}

func initLogging(cfg *Config, settings config.Config) {
	level := logging.ParseLevel(settings.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var output io.Writer = os.Stderr
	if cfg.Silent {
		output = io.Discard
	}
	logging.Init(level, settings.Logging.Format, output)
}

// Services returns the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Run serves HTTP until ctx is cancelled or a termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	return runServer(ctx, a.services)
}

// Close releases background resources.
func (a *Application) Close() {
	a.services.Close()
}
