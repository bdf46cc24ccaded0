// Package logging provides subsystem-tagged structured logging for steward,
// built on Go's standard slog package.
//
// Every log call names the subsystem it comes from, so that output from the
// approval channel, the token manager and the vault can be filtered apart:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Channel", "Listening on %s", addr)
//	logging.Debug("Token", "Refreshing provider=%s", providerID)
//	logging.Error("Vault", err, "Failed to persist %s", path)
//
// # Secrets
//
// Token values, refresh tokens, client secrets and connection keys are never
// logged. Use Fingerprint to correlate a secret across log lines and Audit for
// security-relevant events (key rotation, rejected connections, stored or cleared
// credentials); audit lines carry a "SECURITY_AUDIT:" prefix.
package logging
