package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"steward/internal/app"
)

var serveNoConsole bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval channel with an interactive console",
	Long: `Starts the loopback approval channel. Tools connect to it with the
connection URL (see 'steward key show') to submit messages for approval and
to request the current access token.

By default an interactive console lists incoming messages and lets you
approve or reject them. With --no-console steward runs headless, which suits
systemd units; readiness is reported via sd_notify.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(debug, serveNoConsole, configPath)
	cfg.ConsoleOutput = cmd.OutOrStdout()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "Run headless without the interactive approver")
}
