// Package token owns the credential lifecycle: exchanging authorization codes,
// refreshing tokens (directly or through server providers), deciding when a
// token is still usable, and keeping the encrypted token vault.
//
// Refresh is two-tier. With local client credentials the provider's token
// endpoint is called directly; on failure, or without credentials, each
// registered server provider is asked in registration order until one
// succeeds. If none does the result is ErrRefreshExhausted and the stored
// record is treated as dead.
package token
