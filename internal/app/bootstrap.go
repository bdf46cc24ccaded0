package app

import (
	"context"
	"fmt"
	"os"

	"steward/internal/config"
	"steward/pkg/logging"
)

// Application is a configured steward ready to run.
//
// Initialization happens in two phases: NewApplication loads configuration,
// sets up logging and builds every component; Run opens the key file, starts
// the approval channel and blocks until shutdown.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration and builds all services.
func NewApplication(cfg *Config) (*Application, error) {
	logOutput := cfg.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	logging.InitForCLI(levelFor(cfg.Debug, ""), logOutput)

	stewardCfg, err := config.LoadConfig(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, fmt.Errorf("failed to load steward configuration: %w", err)
	}
	cfg.StewardConfig = &stewardCfg

	// Re-init with the configured level now that it is known.
	logging.InitForCLI(levelFor(cfg.Debug, stewardCfg.LogLevel), logOutput)
	logging.Debug("Bootstrap", "Data directory: %s", stewardCfg.DataDir)

	services, err := InitializeServices(stewardCfg, nil)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Services exposes the constructed components to CLI commands.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the agent and blocks until ctx is cancelled, a termination
// signal arrives or the console is closed.
func (a *Application) Run(ctx context.Context) error {
	if a.config.NoConsole {
		return runHeadless(ctx, a.services)
	}
	out := a.config.ConsoleOutput
	if out == nil {
		out = os.Stdout
	}
	return runInteractive(ctx, a.services, out)
}

func levelFor(debug bool, configured string) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	return logging.ParseLevel(configured)
}
