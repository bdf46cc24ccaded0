// Package vault persists small JSON documents encrypted at rest.
//
// A Store[T] owns one file. Save serializes the value, seals it with AES-256-GCM
// and replaces the file atomically with owner-only permissions. Load never
// fails: a missing file, a file sealed under a different key or a corrupt
// payload all yield the zero value of T, so rotating the master key forgets
// stored secrets instead of crashing the agent.
//
// The master key comes from a KeySource. KeyringSource keeps a random key in
// the operating system keyring; PassphraseSource derives one with PBKDF2 from a
// passphrase and a per-installation salt file.
package vault
