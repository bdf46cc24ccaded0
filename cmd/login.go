package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"steward/internal/cli"
	"steward/internal/token"
)

var loginNoBrowser bool

var loginCmd = &cobra.Command{
	Use:   "login <provider>",
	Short: "Sign in to an OAuth provider",
	Long: `Opens the provider's authorization page in a browser and waits for the
redirect on the loopback callback port. Providers configured with a client id
are authorized directly with PKCE; others go through the first registered
relay that accepts them.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	providerID := args[0]
	s, err := openServices(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var spin *spinner.Spinner
	if stdoutIsTerminal() {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		spin.Suffix = " Waiting for the browser to complete sign-in..."
	}

	flow := s.Login
	flow.OpenURL = func(url string) error {
		fmt.Fprintf(out, "Open this URL to sign in to %s:\n\n  %s\n\n", providerID, url)
		var openErr error
		if !loginNoBrowser {
			openErr = token.OpenBrowser(url)
		}
		if spin != nil {
			spin.Start()
		}
		return openErr
	}

	tokens, err := flow.Login(cmd.Context(), providerID)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return cli.ClassifyLoginError(providerID, err)
	}

	who := providerID
	if tokens.User != nil {
		switch {
		case tokens.User.Email != "":
			who = tokens.User.Email
		case tokens.User.Name != "":
			who = tokens.User.Name
		}
	}
	fmt.Fprintf(out, "Signed in to %s as %s\n", providerID, who)
	return nil
}

var logoutAll bool

var logoutCmd = &cobra.Command{
	Use:   "logout [provider]",
	Short: "Forget stored tokens",
	Long:  `Removes the tokens of one provider, or of every provider with --all.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch {
		case logoutAll:
			if err := s.Vault.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Removed all stored tokens")
		case len(args) == 1:
			if err := s.Vault.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed tokens for %s\n", args[0])
		default:
			active := s.Vault.ActiveProvider()
			if active == "" {
				return &cli.AuthRequiredError{}
			}
			if err := s.Vault.Delete(active); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed tokens for %s\n", active)
		}
		return nil
	},
}

var tokenProvider string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token",
	Long: `Prints the access token of the active provider (or --provider),
refreshing it first when it is about to expire. Exits with code 2 when no
valid token can be obtained.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}

		var tokens *token.ProviderTokens
		if tokenProvider != "" {
			tokens = s.Vault.Valid(cmd.Context(), tokenProvider)
		} else {
			tokens = s.Vault.Current(cmd.Context())
		}
		if tokens == nil {
			return &cli.AuthRequiredError{Provider: tokenProvider}
		}
		fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, tokenCmd)
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL without opening a browser")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "Remove tokens of every provider")
	tokenCmd.Flags().StringVar(&tokenProvider, "provider", "", "Provider to print the token for (default: active provider)")
}
