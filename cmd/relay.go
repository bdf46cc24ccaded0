package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"steward/internal/cli"
	"steward/internal/formatting"
	"steward/internal/provider"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Manage relay servers",
	Long: `Relays are servers that hold client credentials and run the OAuth code
exchange and refresh on steward's behalf. They are tried in registration
order for providers without a local client id, and as the fallback when a
direct refresh fails.`,
}

var relayListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relays",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		servers := s.Registry.Servers()
		if len(servers) == 0 {
			formatting.Empty(out, "No relays registered")
			return nil
		}
		now := time.Now()
		t := formatting.NewTable(out, "ID", "NAME", "URL", "ADDED")
		for _, sp := range servers {
			t.AppendRow([]any{sp.ID, sp.Name, sp.URL, formatting.Since(sp.AddedAt, now)})
		}
		t.Render()
		return nil
	},
}

var relayAddName string

var relayAddCmd = &cobra.Command{
	Use:   "add <id> <url>",
	Short: "Register a relay, or update one with the same id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		name := relayAddName
		if name == "" {
			name = args[0]
		}
		if err := s.Registry.AddServer(provider.ServerProvider{ID: args[0], Name: name, URL: args[1]}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relay %s saved\n", args[0])
		return nil
	},
}

var relayRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		if err := s.Registry.RemoveServer(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Relay %s removed\n", args[0])
		return nil
	},
}

var relayProvidersCmd = &cobra.Command{
	Use:   "providers <id>",
	Short: "List the providers a relay can authorize",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		sp, err := s.Registry.GetServer(args[0])
		if err != nil {
			return err
		}
		providers, err := s.Relay.ListProviders(cmd.Context(), sp.URL, "")
		if err != nil {
			return cli.ClassifyConnectionError(err, sp.URL)
		}
		out := cmd.OutOrStdout()
		if len(providers) == 0 {
			formatting.Empty(out, "Relay offers no providers")
			return nil
		}
		t := formatting.NewTable(out, "ID", "NAME", "SCOPES")
		for _, p := range providers {
			t.AppendRow([]any{p.ID, p.Name, strings.Join(p.Scopes, " ")})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayListCmd, relayAddCmd, relayRemoveCmd, relayProvidersCmd)
	relayAddCmd.Flags().StringVar(&relayAddName, "name", "", "Display name (default: the id)")
}
