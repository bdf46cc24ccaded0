// Package relay talks to server providers: remote services that hold OAuth
// client credentials and run authorization and refresh on steward's behalf.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"steward/pkg/logging"
)

// DefaultHTTPTimeout bounds each relay request when no client is supplied.
const DefaultHTTPTimeout = 30 * time.Second

// maxResponseBytes caps how much of a relay response is read.
const maxResponseBytes = 1 << 20

// ErrUnsuccessful is returned when the relay answered but reported success=false.
var ErrUnsuccessful = errors.New("relay reported failure")

// Error describes a non-2xx answer from a relay.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay returned HTTP %d: %s", e.Status, e.Body)
}

// Tokens is the token payload relays return.
type Tokens struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	User         map[string]any `json:"user,omitempty"`
}

// ProviderInfo is one entry of the relay's provider list.
type ProviderInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

// Authorization is the relay's answer to an authorize request.
type Authorization struct {
	AuthURL   string `json:"authUrl"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e envelope) failure() error {
	if e.Success {
		return nil
	}
	reason := e.Error
	if reason == "" {
		reason = e.Message
	}
	if reason == "" {
		return ErrUnsuccessful
	}
	return fmt.Errorf("%w: %s", ErrUnsuccessful, reason)
}

// tokenEnvelope accepts tokens nested under "tokens" or at the top level.
type tokenEnvelope struct {
	envelope
	Tokens
	Nested *Tokens `json:"tokens,omitempty"`
}

func (t tokenEnvelope) tokens() (*Tokens, error) {
	if err := t.failure(); err != nil {
		return nil, err
	}
	tok := t.Nested
	if tok == nil || tok.AccessToken == "" {
		tok = &t.Tokens
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response carried no access token", ErrUnsuccessful)
	}
	if tok.User == nil {
		tok.User = t.Tokens.User
	}
	return tok, nil
}

// Client calls the /api/oauth endpoints of any relay.
type Client struct {
	httpClient *http.Client
}

// ClientOption configures the relay client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient creates a relay client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{httpClient: &http.Client{Timeout: DefaultHTTPTimeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListProviders returns the providers a relay can authorize.
func (c *Client) ListProviders(ctx context.Context, baseURL, bearer string) ([]ProviderInfo, error) {
	var resp struct {
		envelope
		Providers []ProviderInfo `json:"providers"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint(baseURL, "providers", ""), bearer, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.failure(); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}

// Authorize asks the relay to start a flow for providerID. The relay owns the
// PKCE verifier and identifies the flow by the returned session id.
func (c *Client) Authorize(ctx context.Context, baseURL, providerID, redirectURI, bearer string) (*Authorization, error) {
	u := endpoint(baseURL, "authorize", providerID)
	if redirectURI != "" {
		u += "?" + url.Values{"redirect_uri": {redirectURI}}.Encode()
	}
	var resp struct {
		envelope
		Authorization
	}
	if err := c.do(ctx, http.MethodGet, u, bearer, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.failure(); err != nil {
		return nil, err
	}
	if resp.AuthURL == "" {
		return nil, fmt.Errorf("%w: response carried no authUrl", ErrUnsuccessful)
	}
	return &resp.Authorization, nil
}

// Token redeems an authorization code through the relay.
func (c *Client) Token(ctx context.Context, baseURL, providerID, code, state, sessionID, bearer string) (*Tokens, error) {
	body := map[string]string{
		"code":      code,
		"state":     state,
		"sessionId": sessionID,
	}
	var resp tokenEnvelope
	if err := c.do(ctx, http.MethodPost, endpoint(baseURL, "token", providerID), bearer, body, &resp); err != nil {
		return nil, err
	}
	return resp.tokens()
}

// Refresh asks the relay to refresh providerID's tokens. bearer is the
// caller's current access token, used to authenticate to the relay.
func (c *Client) Refresh(ctx context.Context, baseURL, providerID, refreshToken, bearer string) (*Tokens, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenEnvelope
	if err := c.do(ctx, http.MethodPost, endpoint(baseURL, "refresh", providerID), bearer, body, &resp); err != nil {
		return nil, err
	}
	return resp.tokens()
}

func endpoint(baseURL, action, providerID string) string {
	u := strings.TrimRight(baseURL, "/") + "/api/oauth/" + action
	if providerID != "" {
		u += "/" + url.PathEscape(providerID)
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode relay request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	logging.Debug("Relay", "%s %s -> %d", method, u, resp.StatusCode)
	return nil
}
