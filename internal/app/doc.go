// Package app wires steward together.
//
// NewApplication loads config.yaml, initializes logging and constructs each
// component exactly once: the vault sealer and its stores, the provider
// registry, the token manager and vault, the PKCE flow store, the
// connection-key manager and the approval channel. Components receive their
// collaborators explicitly; there are no package-level singletons besides
// logging and metrics.
//
// Run starts the agent in one of two modes:
//
//   - interactive (default): the approval channel plus a readline console
//     for deciding messages.
//   - headless (--no-console): the approval channel only, with systemd
//     readiness notifications.
//
// Rotating the connection key closes every connected client.
package app
