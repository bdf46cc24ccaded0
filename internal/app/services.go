package app

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"steward/internal/approval"
	"steward/internal/clock"
	"steward/internal/config"
	"steward/internal/connkey"
	"steward/internal/pkce"
	"steward/internal/provider"
	"steward/internal/relay"
	"steward/internal/token"
	"steward/internal/vault"
	"steward/pkg/logging"
)

const (
	providersFile = "providers.enc"
	tokensFile    = "tokens.enc"
	historyFile   = "console_history"
)

// Services holds every component of a running steward, constructed once.
type Services struct {
	Config     config.StewardConfig
	Clock      clock.Clock
	HTTPClient *http.Client

	Registry *provider.Registry
	Relay    *relay.Client
	Tokens   *token.Manager
	Vault    *token.Vault
	Flows    *pkce.FlowStore
	Login    *token.LoginFlow

	Keys    *connkey.Manager
	Channel *approval.Channel
	Server  *approval.Server
}

// InitializeServices builds all components from cfg. Nothing listens and
// no key file is written until Application.Run.
func InitializeServices(cfg config.StewardConfig, c clock.Clock) (*Services, error) {
	c = clock.OrReal(c)

	keySource, err := newKeySource(cfg)
	if err != nil {
		return nil, err
	}
	sealer, err := vault.NewSealerFromSource(keySource)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	registry, err := provider.NewRegistry(
		vault.NewStore[provider.Document](filepath.Join(cfg.DataDir, providersFile), sealer), c)
	if err != nil {
		return nil, fmt.Errorf("failed to open provider registry: %w", err)
	}
	if err := applyProviderConfig(registry, cfg.Auth); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Auth.HTTPTimeout}
	relayClient := relay.NewClient(relay.WithHTTPClient(httpClient))

	manager := token.NewManager(registry, relayClient,
		token.WithHTTPClient(httpClient),
		token.WithClock(c),
		token.WithRefreshBuffer(cfg.Auth.RefreshBuffer),
	)
	tokenVault := token.NewVault(
		vault.NewStore[token.Document](filepath.Join(cfg.DataDir, tokensFile), sealer), manager)

	flows := pkce.NewFlowStore(c)
	keys := connkey.NewManager(cfg.DataDir, cfg.ConnectionKey.Validity, c)

	channel := approval.New(approval.Config{
		AllowRedecide:   cfg.Channel.AllowRedecide,
		MaxMessageBytes: cfg.Channel.MaxMessageBytes,
		RejectLogRate:   cfg.Channel.RejectRate,
		ServeMetrics:    cfg.Metrics.Enabled,
	}, keys, tokenVault, approval.WithClock(c))

	keys.OnKeyRotated(func(string) {
		channel.CloseClients()
	})

	return &Services{
		Config:     cfg,
		Clock:      c,
		HTTPClient: httpClient,
		Registry:   registry,
		Relay:      relayClient,
		Tokens:     manager,
		Vault:      tokenVault,
		Flows:      flows,
		Login: &token.LoginFlow{
			Providers:    registry,
			Manager:      manager,
			Vault:        tokenVault,
			Relay:        relayClient,
			Flows:        flows,
			CallbackPort: cfg.Auth.CallbackPort,
		},
		Keys:    keys,
		Channel: channel,
		Server:  approval.NewServer(channel),
	}, nil
}

func newKeySource(cfg config.StewardConfig) (vault.KeySource, error) {
	switch cfg.Vault.KeySource {
	case config.KeySourcePassphrase:
		return vault.NewPassphraseSourceFromEnv(cfg.Vault.PassphraseEnv, cfg.DataDir)
	case config.KeySourceKeyring, "":
		return vault.NewKeyringSource(), nil
	default:
		return nil, fmt.Errorf("unknown vault key source %q", cfg.Vault.KeySource)
	}
}

// applyProviderConfig copies client credentials from the config file into
// the registry and seeds configured relays that are not registered yet.
func applyProviderConfig(registry *provider.Registry, auth config.AuthConfig) error {
	for id, creds := range auth.Providers {
		current, err := registry.Get(id)
		if errors.Is(err, provider.ErrProviderNotFound) {
			logging.Warn("Bootstrap", "Ignoring credentials for unknown provider %s", id)
			continue
		}
		if err != nil {
			return err
		}

		if current.ClientID != creds.ClientID || current.ClientSecret != creds.ClientSecret {
			if err := registry.SetCredentials(id, creds.ClientID, creds.ClientSecret); err != nil {
				return fmt.Errorf("failed to apply credentials for %s: %w", id, err)
			}
			logging.Info("Bootstrap", "Applied client credentials for provider %s", id)
		}
		if creds.RedirectURI != "" && current.RedirectURI != creds.RedirectURI {
			updated, err := registry.Get(id)
			if err != nil {
				return err
			}
			updated.RedirectURI = creds.RedirectURI
			if err := registry.Upsert(updated); err != nil {
				return fmt.Errorf("failed to set redirect URI for %s: %w", id, err)
			}
		}
	}

	for _, r := range auth.Relays {
		if _, err := registry.GetServer(r.ID); err == nil {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		if err := registry.AddServer(provider.ServerProvider{ID: r.ID, Name: name, URL: r.URL}); err != nil {
			return fmt.Errorf("failed to register relay %s: %w", r.ID, err)
		}
		logging.Info("Bootstrap", "Registered relay %s (%s)", r.ID, r.URL)
	}
	return nil
}
