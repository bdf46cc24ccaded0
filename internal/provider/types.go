package provider

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrProviderNotFound is returned when no provider or server provider has the requested id.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNotCustom is returned when the management surface tries to edit or
	// delete a built-in provider.
	ErrNotCustom = errors.New("provider is built-in and cannot be modified")

	// ErrInvalidProvider is returned for configurations missing required fields.
	ErrInvalidProvider = errors.New("invalid provider configuration")
)

// Config describes one OAuth2 provider.
type Config struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ClientID         string            `json:"clientId,omitempty"`
	ClientSecret     string            `json:"clientSecret,omitempty"`
	AuthorizationURL string            `json:"authorizationUrl"`
	TokenURL         string            `json:"tokenUrl"`
	UserInfoURL      string            `json:"userInfoUrl,omitempty"`
	IssuerURL        string            `json:"issuerUrl,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	UsePKCE          bool              `json:"usePKCE"`
	RedirectURI      string            `json:"redirectUri,omitempty"`
	ExtraParams      map[string]string `json:"extraParams,omitempty"`
	IsCustom         bool              `json:"isCustom"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Available reports whether the provider can run a local flow, i.e. has a client id.
func (c Config) Available() bool {
	return c.ClientID != ""
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (c Config) Clone() Config {
	c.Scopes = slices.Clone(c.Scopes)
	if c.ExtraParams != nil {
		extra := make(map[string]string, len(c.ExtraParams))
		for k, v := range c.ExtraParams {
			extra[k] = v
		}
		c.ExtraParams = extra
	}
	return c
}

// ServerProvider is a remote relay that performs OAuth on the client's behalf.
type ServerProvider struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"addedAt"`
}

// Document is the encrypted on-disk form of the registry.
type Document struct {
	Providers map[string]Config `json:"providers"`
	// Servers keeps registration order, which is the refresh fallback order.
	Servers []ServerProvider `json:"servers"`
	// Seeded lists built-in ids already seeded, so a removed built-in stays removed.
	Seeded []string `json:"seeded,omitempty"`
}
