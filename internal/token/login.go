package token

import (
	"context"
	"errors"
	"fmt"

	"steward/internal/pkce"
	"steward/internal/provider"
	"steward/internal/relay"
	"steward/pkg/logging"
)

// RelayAuthorizer runs the authorization-code flow through a server provider.
type RelayAuthorizer interface {
	Authorize(ctx context.Context, baseURL, providerID, redirectURI, bearer string) (*relay.Authorization, error)
	Token(ctx context.Context, baseURL, providerID, code, state, sessionID, bearer string) (*relay.Tokens, error)
}

// LoginFlow drives a complete browser login: PKCE generation, the loopback
// callback, state validation, code exchange and persistence.
type LoginFlow struct {
	Providers    ProviderSource
	Manager      *Manager
	Vault        *Vault
	Relay        RelayAuthorizer
	Flows        *pkce.FlowStore
	CallbackPort int

	// OpenURL presents the authorization URL to the user. Defaults to OpenBrowser.
	OpenURL func(url string) error
}

// Login signs the user in to providerID and stores the resulting tokens.
// Providers without a client id are authorized through the first server
// provider that accepts the request.
func (l *LoginFlow) Login(ctx context.Context, providerID string) (*ProviderTokens, error) {
	cfg, err := l.Providers.Get(providerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, CallbackTimeout)
	defer cancel()

	callback := NewCallbackServer(l.CallbackPort)
	redirectURI, err := callback.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer callback.Stop()

	var tokens *ProviderTokens
	if cfg.Available() {
		tokens, err = l.loginDirect(ctx, cfg, callback, redirectURI)
	} else {
		tokens, err = l.loginViaRelay(ctx, providerID, callback, redirectURI)
	}
	if err != nil {
		return nil, err
	}

	if err := l.Vault.Put(tokens); err != nil {
		return nil, err
	}
	logging.Info("Login", "Signed in to %s", providerID)
	return tokens, nil
}

func (l *LoginFlow) loginDirect(ctx context.Context, cfg provider.Config, callback *CallbackServer, redirectURI string) (*ProviderTokens, error) {
	if cfg.RedirectURI != "" {
		logging.Debug("Login", "Provider %s has a fixed redirect URI %s; the loopback callback must match it", cfg.ID, cfg.RedirectURI)
		redirectURI = cfg.RedirectURI
	}

	params, err := pkce.Generate(cfg.ID)
	if err != nil {
		return nil, err
	}
	l.Flows.Begin(params)
	defer l.Flows.Cancel(params.State)

	l.present(provider.AuthorizationURL(cfg, params, redirectURI))

	pending, code, err := l.awaitCode(ctx, callback)
	if err != nil {
		return nil, err
	}
	return l.Manager.ExchangeCode(ctx, cfg.ID, code, pending, redirectURI)
}

func (l *LoginFlow) loginViaRelay(ctx context.Context, providerID string, callback *CallbackServer, redirectURI string) (*ProviderTokens, error) {
	servers := l.Providers.Servers()
	if len(servers) == 0 || l.Relay == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, providerID)
	}

	var errs []error
	for _, server := range servers {
		auth, err := l.Relay.Authorize(ctx, server.URL, providerID, redirectURI, "")
		if err != nil {
			logging.Warn("Login", "Server provider %s cannot authorize %s: %v", server.ID, providerID, err)
			errs = append(errs, err)
			continue
		}

		params := &pkce.Params{State: auth.State, ProviderID: providerID, SessionID: auth.SessionID}
		l.Flows.Begin(params)
		defer l.Flows.Cancel(params.State)

		l.present(auth.AuthURL)
		pending, code, err := l.awaitCode(ctx, callback)
		if err != nil {
			return nil, err
		}

		issued := l.Manager.clock.Now()
		rt, err := l.Relay.Token(ctx, server.URL, providerID, code, pending.State, pending.SessionID, "")
		if err != nil {
			exErr := &ExchangeError{Err: err}
			var relayErr *relay.Error
			if errors.As(err, &relayErr) {
				exErr.Status = relayErr.Status
				exErr.Body = relayErr.Body
			}
			return nil, exErr
		}
		return fromRelay(providerID, rt, issued), nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, providerID, errors.Join(errs...))
}

// awaitCode waits for the redirect and consumes the matching pending flow.
func (l *LoginFlow) awaitCode(ctx context.Context, callback *CallbackServer) (*pkce.Params, string, error) {
	result, err := callback.WaitForCallback(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("waiting for authorization callback: %w", err)
	}
	if err := result.Err(); err != nil {
		return nil, "", err
	}
	pending, err := l.Flows.Consume(result.State)
	if err != nil {
		return nil, "", err
	}
	return pending, result.Code, nil
}

func (l *LoginFlow) present(url string) {
	open := l.OpenURL
	if open == nil {
		open = OpenBrowser
	}
	if err := open(url); err != nil {
		logging.Warn("Login", "Could not open a browser (%v). Open this URL to continue: %s", err, url)
	}
}
