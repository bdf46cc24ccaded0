package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Show or rotate the approval channel connection key",
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the connection URL",
	Long: `Prints the websocket URL tools use to connect to the approval channel.
The key is created if none exists yet, and rotated if it has expired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		if err := s.Keys.Start(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		port := s.Config.Channel.Port
		if port == 0 {
			fmt.Fprintln(out, "channel.port is 0 (ephemeral); the URL below needs the port 'steward serve' logs at startup")
		}
		fmt.Fprintln(out, s.Keys.URL(port))
		fmt.Fprintf(out, "Expires: %s\n", s.Keys.ExpiresAt().Format(time.RFC3339))
		return nil
	},
}

var keyRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rotate the connection key",
	Long: `Writes a new connection key. A running 'steward serve' picks it up from
the key file and disconnects every client still using the old key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		if _, err := s.Keys.Regenerate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.Keys.URL(s.Config.Channel.Port))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyShowCmd, keyRegenerateCmd)
}
