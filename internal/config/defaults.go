package config

import "time"

const (
	DefaultChannelHost      = "127.0.0.1"
	DefaultChannelPort      = 17321
	DefaultCallbackPort     = 17322
	DefaultMaxMessageBytes  = 1 << 20
	DefaultRejectRate       = 5
	DefaultKeyValidity      = 30 * 24 * time.Hour
	DefaultRefreshBuffer    = 5 * time.Minute
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultPassphraseEnvVar = "STEWARD_VAULT_PASSPHRASE"
)

// GetDefaultConfig returns the configuration used when no config.yaml exists.
// DataDir is left empty and resolved against the config directory by LoadConfig.
func GetDefaultConfig() StewardConfig {
	return StewardConfig{
		Channel: ChannelConfig{
			Host:            DefaultChannelHost,
			Port:            DefaultChannelPort,
			AllowRedecide:   true,
			MaxMessageBytes: DefaultMaxMessageBytes,
			RejectRate:      DefaultRejectRate,
		},
		ConnectionKey: ConnectionKeyConfig{
			Validity: DefaultKeyValidity,
			Watch:    true,
		},
		Vault: VaultConfig{
			KeySource:     KeySourceKeyring,
			PassphraseEnv: DefaultPassphraseEnvVar,
		},
		Auth: AuthConfig{
			CallbackPort:  DefaultCallbackPort,
			RefreshBuffer: DefaultRefreshBuffer,
			HTTPTimeout:   DefaultHTTPTimeout,
		},
		LogLevel: "info",
	}
}
