package app

import (
	"io"

	"steward/internal/config"
)

// Config holds the runtime settings given on the command line.
type Config struct {
	Debug bool

	// ConfigPath is the directory holding config.yaml. Empty means
	// ~/.config/steward.
	ConfigPath string

	// NoConsole runs headless: no interactive approver, decisions come
	// only from other collaborators.
	NoConsole bool

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// ConsoleOutput receives console output. Defaults to stdout.
	ConsoleOutput io.Writer

	// StewardConfig is filled in by NewApplication.
	StewardConfig *config.StewardConfig
}

// NewConfig creates a new application configuration.
func NewConfig(debug, noConsole bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		NoConsole:  noConsole,
		ConfigPath: configPath,
	}
}
