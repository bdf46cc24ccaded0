package provider

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
)

type discoveryClaims struct {
	UserInfoURL          string   `json:"userinfo_endpoint"`
	ScopesSupported      []string `json:"scopes_supported"`
	CodeChallengeMethods []string `json:"code_challenge_methods_supported"`
}

// Discover fills the endpoint URLs of cfg from the issuer's OpenID
// configuration. Fields already set on cfg are kept. A nil client uses
// http.DefaultClient.
func Discover(ctx context.Context, client *http.Client, issuer string, cfg Config) (Config, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return cfg, fmt.Errorf("oidc discovery for %s failed: %w", issuer, err)
	}

	var claims discoveryClaims
	if err := p.Claims(&claims); err != nil {
		return cfg, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	endpoint := p.Endpoint()
	cfg.IssuerURL = issuer
	if cfg.AuthorizationURL == "" {
		cfg.AuthorizationURL = endpoint.AuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = endpoint.TokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = claims.UserInfoURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
		if slices.Contains(claims.ScopesSupported, oidc.ScopeOfflineAccess) {
			cfg.Scopes = append(cfg.Scopes, oidc.ScopeOfflineAccess)
		}
	}
	if slices.Contains(claims.CodeChallengeMethods, "S256") {
		cfg.UsePKCE = true
	}
	return cfg, nil
}
