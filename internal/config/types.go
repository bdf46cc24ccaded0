package config

import "time"

// StewardConfig is the top-level configuration structure for steward.
type StewardConfig struct {
	// DataDir holds every persisted file (vault files, connection key).
	// Created with 0700 permissions on first write.
	DataDir string `yaml:"dataDir,omitempty"`

	Channel       ChannelConfig       `yaml:"channel"`
	ConnectionKey ConnectionKeyConfig `yaml:"connectionKey"`
	Vault         VaultConfig         `yaml:"vault"`
	Auth          AuthConfig          `yaml:"auth"`
	Metrics       MetricsConfig       `yaml:"metrics"`

	LogLevel string `yaml:"logLevel,omitempty"`
}

// ChannelConfig configures the local approval channel.
type ChannelConfig struct {
	Host string `yaml:"host,omitempty"` // Must be a loopback address (default: 127.0.0.1)
	Port int    `yaml:"port"` // 0 picks an ephemeral port

	// AllowRedecide permits changing the status of an already decided message.
	// The last decision wins when enabled.
	AllowRedecide bool `yaml:"allowRedecide"`

	MaxMessageBytes int     `yaml:"maxMessageBytes,omitempty"`
	RejectRate      float64 `yaml:"rejectRate,omitempty"` // Rejected-connection log lines per second
}

// ConnectionKeyConfig configures the shared secret gating the channel.
type ConnectionKeyConfig struct {
	Validity time.Duration `yaml:"validity,omitempty"`
	Watch    bool          `yaml:"watch"`
}

// KeySource names where the vault's symmetric key comes from.
type KeySource string

const (
	KeySourceKeyring    KeySource = "keyring"
	KeySourcePassphrase KeySource = "passphrase"
)

// VaultConfig configures encryption at rest.
type VaultConfig struct {
	KeySource     KeySource `yaml:"keySource,omitempty"`
	PassphraseEnv string    `yaml:"passphraseEnv,omitempty"`
}

// ProviderCredentials supplies client credentials for a built-in provider.
type ProviderCredentials struct {
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	RedirectURI  string `yaml:"redirectUri,omitempty"`
}

// RelayConfig seeds a server provider (remote OAuth relay).
type RelayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	URL  string `yaml:"url"`
}

// AuthConfig configures login, exchange and refresh behaviour.
type AuthConfig struct {
	CallbackPort  int                            `yaml:"callbackPort,omitempty"`
	RefreshBuffer time.Duration                  `yaml:"refreshBuffer,omitempty"`
	HTTPTimeout   time.Duration                  `yaml:"httpTimeout,omitempty"`
	Providers     map[string]ProviderCredentials `yaml:"providers,omitempty"`
	Relays        []RelayConfig                  `yaml:"relays,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint on the channel listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}
