package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"steward/internal/clock"
	"steward/internal/metrics"
	"steward/internal/pkce"
	"steward/internal/provider"
	"steward/internal/relay"
	"steward/pkg/logging"
)

const (
	// DefaultRefreshBuffer is how long before expiry a token stops being handed out.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultHTTPTimeout bounds provider calls when no client is supplied.
	DefaultHTTPTimeout = 30 * time.Second

	maxUserInfoBytes = 1 << 20
)

// ProviderSource resolves provider configurations and server providers.
type ProviderSource interface {
	Get(id string) (provider.Config, error)
	Servers() []provider.ServerProvider
}

// RelayRefresher refreshes tokens through a server provider.
type RelayRefresher interface {
	Refresh(ctx context.Context, baseURL, providerID, refreshToken, bearer string) (*relay.Tokens, error)
}

// Manager performs code exchange and refresh against providers and relays.
type Manager struct {
	providers     ProviderSource
	relays        RelayRefresher
	httpClient    *http.Client
	clock         clock.Clock
	refreshBuffer time.Duration

	// refreshes coalesces concurrent refreshes of the same provider. Refresh
	// tokens are frequently single-use, so a duplicate call would revoke the
	// winner's result.
	refreshes singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient sets the client used for token and userinfo endpoints.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithClock sets the clock used for expiry math.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = clock.OrReal(c)
	}
}

// WithRefreshBuffer sets how early before expiry tokens are refreshed.
func WithRefreshBuffer(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshBuffer = d
	}
}

// NewManager creates a Manager.
func NewManager(providers ProviderSource, relays RelayRefresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		providers:     providers,
		relays:        relays,
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		clock:         clock.Real{},
		refreshBuffer: DefaultRefreshBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// ExchangeCode redeems an authorization code at the provider's token endpoint.
// code_verifier is sent only for providers that declare UsePKCE. When the
// provider has a userinfo endpoint the profile is fetched on a best-effort
// basis; failing to fetch it leaves User nil.
func (m *Manager) ExchangeCode(ctx context.Context, providerID, code string, params *pkce.Params, redirectURI string) (*ProviderTokens, error) {
	cfg, err := m.providers.Get(providerID)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if cfg.UsePKCE && params != nil {
		opts = append(opts, oauth2.VerifierOption(params.CodeVerifier))
	}

	issued := m.clock.Now()
	tok, err := provider.OAuth2Config(cfg, redirectURI).Exchange(m.oauthContext(ctx), code, opts...)
	metrics.TokenExchanges.WithLabelValues(providerID, metrics.Result(err)).Inc()
	if err != nil {
		exErr := &ExchangeError{Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			exErr.Status = retrieveErr.Response.StatusCode
			exErr.Body = string(retrieveErr.Body)
		}
		logging.Error("TokenManager", err, "Code exchange for %s failed", providerID)
		return nil, exErr
	}

	result := fromOAuth2(providerID, tok, issued)
	result.User = m.fetchProfile(ctx, cfg, result.AccessToken)

	logging.Audit("TokenManager", "tokens issued",
		slog.String("provider", providerID),
		slog.String("token", logging.Fingerprint(result.AccessToken)))
	return result, nil
}

// Refresh obtains new tokens for providerID. Direct refresh is tried first when
// the provider has a client id; any failure there falls through to the server
// providers in registration order. The first server to answer with success
// wins and later servers are not contacted. bearer authenticates the relay
// calls and may be empty.
//
// Concurrent calls for the same providerID share one refresh.
func (m *Manager) Refresh(ctx context.Context, providerID, refreshToken, bearer string) (*ProviderTokens, error) {
	ch := m.refreshes.DoChan(providerID, func() (any, error) {
		// Detached so one impatient caller does not fail the others sharing this flight.
		return m.refresh(context.WithoutCancel(ctx), providerID, refreshToken, bearer)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshesCoalesced.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		tokens := *res.Val.(*ProviderTokens)
		return &tokens, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, providerID, refreshToken, bearer string) (*ProviderTokens, error) {
	if tokens, err := m.refreshDirect(ctx, providerID, refreshToken); err == nil {
		return tokens, nil
	} else if !errors.Is(err, errNoDirectRefresh) {
		logging.Warn("TokenManager", "Direct refresh for %s failed, trying server providers: %v", providerID, err)
	}

	for _, server := range m.providers.Servers() {
		issued := m.clock.Now()
		rt, err := m.relays.Refresh(ctx, server.URL, providerID, refreshToken, bearer)
		metrics.TokenRefreshes.WithLabelValues(providerID, "relay", metrics.Result(err)).Inc()
		if err != nil {
			logging.Warn("TokenManager", "Server provider %s could not refresh %s: %v", server.ID, providerID, err)
			continue
		}
		logging.Info("TokenManager", "Refreshed %s via server provider %s", providerID, server.ID)
		tokens := fromRelay(providerID, rt, issued)
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refreshToken
		}
		return tokens, nil
	}

	return nil, fmt.Errorf("%w for %s", ErrRefreshExhausted, providerID)
}

var errNoDirectRefresh = errors.New("provider has no client id")

func (m *Manager) refreshDirect(ctx context.Context, providerID, refreshToken string) (*ProviderTokens, error) {
	cfg, err := m.providers.Get(providerID)
	if err != nil || !cfg.Available() {
		return nil, errNoDirectRefresh
	}

	issued := m.clock.Now()
	// An empty access token forces the source to hit the token endpoint.
	src := provider.OAuth2Config(cfg, "").TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	metrics.TokenRefreshes.WithLabelValues(providerID, "direct", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	logging.Info("TokenManager", "Refreshed %s directly", providerID)
	return fromOAuth2(providerID, tok, issued), nil
}

// GetValidAccessToken returns tokens unchanged while the access token is more
// than the refresh buffer away from expiry. Otherwise it refreshes and returns
// the new record, carrying the user profile over. It returns nil when the
// token cannot be refreshed; a stale token is never returned.
func (m *Manager) GetValidAccessToken(ctx context.Context, tokens *ProviderTokens) *ProviderTokens {
	valid, err := m.ValidTokens(ctx, tokens)
	if err != nil {
		return nil
	}
	return valid
}

// ValidTokens is GetValidAccessToken with the reason for a nil result.
// IsDead tells a refresh failure apart from the caller giving up.
func (m *Manager) ValidTokens(ctx context.Context, tokens *ProviderTokens) (*ProviderTokens, error) {
	if tokens == nil {
		return nil, ErrNoRefreshToken
	}
	if tokens.ValidAt(m.clock.Now(), m.refreshBuffer) {
		return tokens, nil
	}
	if tokens.RefreshToken == "" {
		logging.Info("TokenManager", "Token for %s expired and has no refresh token", tokens.ProviderID)
		return nil, fmt.Errorf("%w for %s", ErrNoRefreshToken, tokens.ProviderID)
	}

	refreshed, err := m.Refresh(ctx, tokens.ProviderID, tokens.RefreshToken, tokens.AccessToken)
	if err != nil {
		logging.Warn("TokenManager", "Could not refresh token for %s: %v", tokens.ProviderID, err)
		return nil, err
	}
	if refreshed.User == nil {
		refreshed.User = tokens.User
	}
	return refreshed, nil
}

// fetchProfile loads and normalizes the userinfo document. Errors are logged
// and swallowed.
func (m *Manager) fetchProfile(ctx context.Context, cfg provider.Config, accessToken string) *UserProfile {
	if cfg.UserInfoURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL, nil)
	if err != nil {
		logging.Debug("TokenManager", "Bad userinfo URL for %s: %v", cfg.ID, err)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logging.Debug("TokenManager", "Userinfo request for %s failed: %v", cfg.ID, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logging.Debug("TokenManager", "Userinfo for %s returned HTTP %d", cfg.ID, resp.StatusCode)
		return nil
	}

	var raw map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(&raw); err != nil {
		logging.Debug("TokenManager", "Userinfo for %s is not JSON: %v", cfg.ID, err)
		return nil
	}
	return NormalizeProfile(cfg.ID, raw)
}

func fromOAuth2(providerID string, tok *oauth2.Token, issued time.Time) *ProviderTokens {
	expiresIn := tok.ExpiresIn
	if expiresIn == 0 {
		expiresIn = int64Extra(tok.Extra("expires_in"))
	}
	scope, _ := tok.Extra("scope").(string)
	idToken, _ := tok.Extra("id_token").(string)

	return &ProviderTokens{
		ProviderID:   providerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
		ExpiresAt:    expiresAt(issued, expiresIn),
		Scope:        scope,
		IDToken:      idToken,
	}
}

func fromRelay(providerID string, rt *relay.Tokens, issued time.Time) *ProviderTokens {
	tokens := &ProviderTokens{
		ProviderID:   providerID,
		AccessToken:  rt.AccessToken,
		RefreshToken: rt.RefreshToken,
		TokenType:    rt.TokenType,
		ExpiresIn:    rt.ExpiresIn,
		ExpiresAt:    expiresAt(issued, rt.ExpiresIn),
		Scope:        rt.Scope,
		IDToken:      rt.IDToken,
	}
	if rt.User != nil {
		tokens.User = NormalizeProfile(providerID, rt.User)
	}
	return tokens
}

// int64Extra reads expires_in from the raw response, which is a JSON number
// for JSON bodies and a string for form-encoded ones.
func int64Extra(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
