package provider

import (
	"sort"

	"golang.org/x/oauth2"

	"steward/internal/pkce"
)

// OAuth2Config converts a provider into an oauth2.Config. Client credentials
// are sent in the request body so client_secret is omitted when empty.
func OAuth2Config(cfg Config, redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = cfg.RedirectURI
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the URL the browser is sent to. The PKCE challenge
// is included only for providers that declare UsePKCE. Extra parameters are
// appended in key order.
func AuthorizationURL(cfg Config, params *pkce.Params, redirectURI string) string {
	var opts []oauth2.AuthCodeOption
	if cfg.UsePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(params.CodeVerifier))
	}

	keys := make([]string, 0, len(cfg.ExtraParams))
	for k := range cfg.ExtraParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, cfg.ExtraParams[k]))
	}

	return OAuth2Config(cfg, redirectURI).AuthCodeURL(params.State, opts...)
}
