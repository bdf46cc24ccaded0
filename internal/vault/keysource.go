package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"steward/pkg/logging"
)

const (
	// KeyringService is the service name under which the master key is stored.
	KeyringService = "steward"
	keyringUser    = "vault-master-key"

	saltSize         = 16
	pbkdf2Iterations = 210000
)

// KeySource yields the 32-byte master key for a Sealer.
type KeySource interface {
	Key() ([]byte, error)
}

// KeyringSource keeps a random master key in the OS keyring, creating it on
// first use.
type KeyringSource struct {
	Service string
	User    string
}

// NewKeyringSource returns a KeyringSource using steward's service name.
func NewKeyringSource() *KeyringSource {
	return &KeyringSource{Service: KeyringService, User: keyringUser}
}

func (k *KeyringSource) Key() ([]byte, error) {
	encoded, err := keyring.Get(k.Service, k.User)
	if err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr == nil && len(key) == KeySize {
			return key, nil
		}
		logging.Warn("Vault", "Keyring entry %s/%s is malformed, replacing it", k.Service, k.User)
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring lookup failed: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := keyring.Set(k.Service, k.User, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store master key in keyring: %w", err)
	}
	logging.Audit("Vault", "master key generated", slog.String("service", k.Service))
	return key, nil
}

// Rotate discards the stored master key. Documents sealed under it become
// unreadable and load as empty.
func (k *KeyringSource) Rotate() error {
	err := keyring.Delete(k.Service, k.User)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete master key: %w", err)
	}
	logging.Audit("Vault", "master key discarded", slog.String("service", k.Service))
	return nil
}

// PassphraseSource derives the master key from a passphrase with PBKDF2-SHA256.
// The salt is random per installation and stored next to the vault files.
type PassphraseSource struct {
	Passphrase string
	SaltPath   string
}

// NewPassphraseSourceFromEnv reads the passphrase from envVar.
func NewPassphraseSourceFromEnv(envVar, dataDir string) (*PassphraseSource, error) {
	passphrase := os.Getenv(envVar)
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase environment variable %s is not set", envVar)
	}
	return &PassphraseSource{
		Passphrase: passphrase,
		SaltPath:   filepath.Join(dataDir, "vault.salt"),
	}, nil
}

func (p *PassphraseSource) Key() ([]byte, error) {
	if p.Passphrase == "" {
		return nil, errors.New("vault passphrase is empty")
	}
	salt, err := p.salt()
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(p.Passphrase), salt, pbkdf2Iterations, KeySize, sha256.New), nil
}

func (p *PassphraseSource) salt() ([]byte, error) {
	salt, err := os.ReadFile(p.SaltPath)
	if err == nil && len(salt) == saltSize {
		return salt, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := writeFileAtomic(p.SaltPath, salt); err != nil {
		return nil, &PersistenceError{Op: "write", Path: p.SaltPath, Err: err}
	}
	return salt, nil
}
