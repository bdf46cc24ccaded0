package token

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRefreshExhausted means neither direct refresh nor any server provider
	// produced new tokens. The caller must re-authenticate.
	ErrRefreshExhausted = errors.New("token refresh exhausted")

	// ErrNoRefreshToken means the access token expired and there is nothing to
	// refresh it with.
	ErrNoRefreshToken = errors.New("token expired and has no refresh token")

	// ErrProviderUnavailable means a login was requested for a provider that has
	// no client id and no server provider to fall back to.
	ErrProviderUnavailable = errors.New("provider has no client credentials and no server provider is registered")
)

// IsDead reports whether err means the stored tokens can never be used again.
// Cancellation and deadlines are not: the refresh may still have succeeded.
func IsDead(err error) bool {
	return errors.Is(err, ErrRefreshExhausted) || errors.Is(err, ErrNoRefreshToken)
}

// ExchangeError reports a failed authorization-code exchange.
type ExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange failed with HTTP %d: %s", e.Status, e.Body)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// UserProfile is a provider-independent view of the signed-in user.
type UserProfile struct {
	ID        string         `json:"id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	FirstName string         `json:"firstName,omitempty"`
	LastName  string         `json:"lastName,omitempty"`
	Picture   string         `json:"picture,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// ProviderTokens is the credential set held for one provider.
type ProviderTokens struct {
	ProviderID   string `json:"providerId"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	// ExpiresAt is epoch milliseconds, always issuance time + ExpiresIn*1000.
	// Zero means the provider issued a non-expiring token.
	ExpiresAt int64        `json:"expires_at,omitempty"`
	Scope     string       `json:"scope,omitempty"`
	IDToken   string       `json:"id_token,omitempty"`
	User      *UserProfile `json:"user,omitempty"`
}

// expiresAt derives the absolute expiry from the issuance time.
func expiresAt(issued time.Time, expiresIn int64) int64 {
	if expiresIn <= 0 {
		return 0
	}
	return issued.UnixMilli() + expiresIn*1000
}

// ValidAt reports whether the access token is usable at now with buffer to spare.
func (t *ProviderTokens) ValidAt(now time.Time, buffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt == 0 {
		return true
	}
	return now.UnixMilli() < t.ExpiresAt-buffer.Milliseconds()
}

// ExpiresAtTime returns ExpiresAt as a time.Time, zero when the token does not expire.
func (t *ProviderTokens) ExpiresAtTime() time.Time {
	if t.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiresAt)
}
