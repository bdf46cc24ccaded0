package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate checks a loaded configuration and collects every problem found.
func Validate(cfg StewardConfig) ValidationErrors {
	var errs ValidationErrors

	if !IsLoopbackHost(cfg.Channel.Host) {
		errs.Add("channel.host", "must be a loopback address", cfg.Channel.Host)
	}
	validatePort(&errs, "channel.port", cfg.Channel.Port)
	validatePort(&errs, "auth.callbackPort", cfg.Auth.CallbackPort)

	if cfg.Channel.MaxMessageBytes <= 0 {
		errs.Add("channel.maxMessageBytes", "must be positive", cfg.Channel.MaxMessageBytes)
	}
	if cfg.ConnectionKey.Validity <= 0 {
		errs.Add("connectionKey.validity", "must be positive", cfg.ConnectionKey.Validity)
	}
	if cfg.Auth.RefreshBuffer < 0 {
		errs.Add("auth.refreshBuffer", "must not be negative", cfg.Auth.RefreshBuffer)
	}

	switch cfg.Vault.KeySource {
	case KeySourceKeyring:
	case KeySourcePassphrase:
		if strings.TrimSpace(cfg.Vault.PassphraseEnv) == "" {
			errs.Add("vault.passphraseEnv", "is required when keySource is passphrase")
		}
	default:
		errs.Add("vault.keySource", fmt.Sprintf("must be %q or %q", KeySourceKeyring, KeySourcePassphrase), cfg.Vault.KeySource)
	}

	seen := make(map[string]bool)
	for i, relay := range cfg.Auth.Relays {
		field := fmt.Sprintf("auth.relays[%d]", i)
		if strings.TrimSpace(relay.ID) == "" {
			errs.Add(field+".id", "is required")
		} else if seen[relay.ID] {
			errs.Add(field+".id", "is duplicated", relay.ID)
		}
		seen[relay.ID] = true

		u, err := url.Parse(relay.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add(field+".url", "must be an absolute http(s) URL", relay.URL)
		}
	}

	return errs
}

// IsLoopbackHost reports whether host names the local machine.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validatePort(errs *ValidationErrors, field string, port int) {
	if port < 0 || port > 65535 {
		errs.Add(field, "must be between 0 and 65535", port)
	}
}
