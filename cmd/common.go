package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"steward/internal/app"
	"steward/internal/config"
	"steward/pkg/logging"
)

// openServices builds steward's components for one-shot commands. Logs go
// to stderr at warn level unless --debug is given, keeping stdout clean for
// command output.
func openServices(cmd *cobra.Command) (*app.Services, error) {
	level := logging.LevelWarn
	if debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return app.InitializeServices(cfg, nil)
}

// stdoutIsTerminal reports whether progress indicators make sense.
func stdoutIsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
