package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"steward/internal/cli"
	"steward/internal/formatting"
	"steward/internal/provider"
)

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage OAuth providers",
	Long: `Lists the built-in providers (google, github, microsoft) and manages
custom ones. Client credentials for built-in providers are set in config.yaml
under auth.providers.`,
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}

		providers := s.Registry.List()
		out := cmd.OutOrStdout()
		if len(providers) == 0 {
			formatting.Empty(out, "No providers registered")
			return nil
		}

		signedIn := map[string]bool{}
		for _, id := range s.Vault.Providers() {
			signedIn[id] = true
		}
		active := s.Vault.ActiveProvider()

		t := formatting.NewTable(out, "ID", "NAME", "LOGIN", "PKCE", "CUSTOM", "TOKENS")
		for _, p := range providers {
			login := "relay"
			if p.Available() {
				login = "direct"
			}
			tokens := ""
			switch {
			case p.ID == active:
				tokens = "active"
			case signedIn[p.ID]:
				tokens = "stored"
			}
			t.AppendRow([]any{p.ID, p.Name, login, yesNo(p.UsePKCE), yesNo(p.IsCustom), tokens})
		}
		t.Render()
		return nil
	},
}

var providerAddOpts struct {
	name         string
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	userInfoURL  string
	issuer       string
	scopes       string
	pkce         bool
	redirectURI  string
}

var providerAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add or update a custom provider",
	Long: `Registers a custom OAuth provider. With --issuer the endpoints, scopes and
PKCE support are discovered from the issuer's OpenID configuration; explicit
flags take precedence over discovered values.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}

		o := providerAddOpts
		cfg := provider.Config{
			ID:               args[0],
			Name:             o.name,
			ClientID:         o.clientID,
			ClientSecret:     o.clientSecret,
			AuthorizationURL: o.authURL,
			TokenURL:         o.tokenURL,
			UserInfoURL:      o.userInfoURL,
			UsePKCE:          o.pkce,
			RedirectURI:      o.redirectURI,
			IsCustom:         true,
		}
		if o.scopes != "" {
			cfg.Scopes = splitList(o.scopes)
		}
		if cfg.Name == "" {
			cfg.Name = cfg.ID
		}

		if o.issuer != "" {
			cfg, err = provider.Discover(cmd.Context(), s.HTTPClient, o.issuer, cfg)
			if err != nil {
				return cli.ClassifyConnectionError(err, o.issuer)
			}
			if cmd.Flags().Changed("pkce") {
				cfg.UsePKCE = o.pkce
			}
		}

		if err := s.Registry.UpsertCustom(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provider %s saved\n", cfg.ID)
		return nil
	},
}

var providerRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a custom provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		if err := s.Registry.RemoveCustom(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Provider %s removed\n", args[0])
		return nil
	},
}

var providerDiscoverCmd = &cobra.Command{
	Use:   "discover <issuer-url>",
	Short: "Show what OpenID discovery finds for an issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openServices(cmd)
		if err != nil {
			return err
		}
		cfg, err := provider.Discover(cmd.Context(), s.HTTPClient, args[0], provider.Config{})
		if err != nil {
			return cli.ClassifyConnectionError(err, args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatting.PrettyJSON(cfg))
		return nil
	},
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(providerCmd)
	providerCmd.AddCommand(providerListCmd, providerAddCmd, providerRemoveCmd, providerDiscoverCmd)

	f := providerAddCmd.Flags()
	f.StringVar(&providerAddOpts.name, "name", "", "Display name")
	f.StringVar(&providerAddOpts.clientID, "client-id", "", "OAuth client id")
	f.StringVar(&providerAddOpts.clientSecret, "client-secret", "", "OAuth client secret (confidential clients only)")
	f.StringVar(&providerAddOpts.authURL, "auth-url", "", "Authorization endpoint")
	f.StringVar(&providerAddOpts.tokenURL, "token-url", "", "Token endpoint")
	f.StringVar(&providerAddOpts.userInfoURL, "userinfo-url", "", "User info endpoint")
	f.StringVar(&providerAddOpts.issuer, "issuer", "", "OpenID issuer URL to discover endpoints from")
	f.StringVar(&providerAddOpts.scopes, "scopes", "", "Comma separated scopes")
	f.BoolVar(&providerAddOpts.pkce, "pkce", true, "Use PKCE (S256)")
	f.StringVar(&providerAddOpts.redirectURI, "redirect-uri", "", "Fixed redirect URI registered with the provider")
}
