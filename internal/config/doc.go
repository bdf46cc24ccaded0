// Package config loads steward's configuration.
//
// Configuration lives in a single directory, ~/.config/steward by default or the
// directory passed with --config-path. It contains config.yaml; when the file is
// missing the defaults from GetDefaultConfig apply. Unless dataDir says otherwise,
// persisted state (encrypted registries, token vault, connection key) is kept in
// the same directory.
//
// LoadConfig validates the result and returns a ConfigurationError listing every
// problem at once rather than stopping at the first.
package config
