// Package connkey owns the shared secret that gates the local approval channel.
//
// The key is 32 random bytes, hex-encoded, persisted as JSON with owner-only
// permissions. It is regenerated when older than the validity window or on
// request; every regeneration immediately invalidates previously distributed
// connection URLs.
package connkey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"steward/internal/clock"
	"steward/internal/metrics"
	"steward/internal/vault"
	"steward/pkg/logging"
)

const (
	// FileName is the key file inside the data directory.
	FileName = "connection-key.json"

	// DefaultValidity is how long a key is reused across restarts.
	DefaultValidity = 30 * 24 * time.Hour

	keyBytes    = 32
	fileVersion = 1
)

// Key is the persisted form of the connection key.
type Key struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
	Version   int       `json:"version"`
}

// RotationHandler is notified with the new key after it has been persisted.
type RotationHandler func(key string)

// Manager generates, persists and validates the connection key.
type Manager struct {
	mu       sync.RWMutex
	path     string
	validity time.Duration
	clock    clock.Clock
	current  Key

	handlersMu sync.RWMutex
	handlers   []RotationHandler
}

// NewManager creates a manager storing its key in dataDir. A non-positive
// validity uses DefaultValidity; a nil clock uses the system time.
func NewManager(dataDir string, validity time.Duration, c clock.Clock) *Manager {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Manager{
		path:     filepath.Join(dataDir, FileName),
		validity: validity,
		clock:    clock.OrReal(c),
	}
}

// Path returns the key file location.
func (m *Manager) Path() string {
	return m.path
}

// Start loads the persisted key when it is still within its validity window
// and generates a new one otherwise.
func (m *Manager) Start() error {
	stored, err := m.readFile()
	if err == nil && m.fresh(stored) {
		m.mu.Lock()
		m.current = stored
		m.mu.Unlock()
		logging.Info("ConnKey", "Loaded connection key %s created %s", logging.Fingerprint(stored.Key), stored.CreatedAt.Format(time.RFC3339))
		return nil
	}

	reason := "expired"
	if err != nil {
		reason = "missing"
		if !errors.Is(err, os.ErrNotExist) {
			reason = "unreadable"
			logging.Warn("ConnKey", "Ignoring unreadable key file %s: %v", m.path, err)
		}
	}
	_, err = m.rotate(reason)
	return err
}

// Key returns the active key.
func (m *Manager) Key() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Key
}

// CreatedAt returns when the active key was generated.
func (m *Manager) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.CreatedAt
}

// ExpiresAt returns when the active key falls out of its validity window.
func (m *Manager) ExpiresAt() time.Time {
	return m.CreatedAt().Add(m.validity)
}

// URL returns the connection URL local tools use to reach the channel.
func (m *Manager) URL(port int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d?key=%s", port, m.Key())
}

// Validate compares candidate with the active key in constant time.
func (m *Manager) Validate(candidate string) bool {
	key := m.Key()
	if key == "" || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1
}

// Regenerate replaces the key regardless of its age.
func (m *Manager) Regenerate() (string, error) {
	return m.rotate("manual")
}

// RotateIfExpired regenerates the key when it has outlived its validity window.
func (m *Manager) RotateIfExpired() (bool, error) {
	m.mu.RLock()
	current := m.current
	m.mu.RUnlock()
	if m.fresh(current) {
		return false, nil
	}
	_, err := m.rotate("expired")
	return err == nil, err
}

// OnKeyRotated registers a handler called after every key change, including
// the first generation and changes picked up from disk.
func (m *Manager) OnKeyRotated(h RotationHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Reload re-reads the key file and adopts its key if it differs from the
// active one. It reports whether the key changed.
func (m *Manager) Reload() (bool, error) {
	stored, err := m.readFile()
	if err != nil {
		return false, err
	}
	if stored.Key == "" {
		return false, errors.New("key file has no key")
	}

	m.mu.Lock()
	if stored.Key == m.current.Key {
		m.mu.Unlock()
		return false, nil
	}
	m.current = stored
	m.mu.Unlock()

	logging.Audit("ConnKey", "connection key changed on disk", slog.String("fingerprint", logging.Fingerprint(stored.Key)))
	metrics.KeyRotations.WithLabelValues("external").Inc()
	m.notify(stored.Key)
	return true, nil
}

func (m *Manager) rotate(reason string) (string, error) {
	raw := make([]byte, keyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate connection key: %w", err)
	}
	next := Key{
		Key:       hex.EncodeToString(raw),
		CreatedAt: m.clock.Now().UTC(),
		Version:   fileVersion,
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if err := vault.WriteFileAtomic(m.path, data); err != nil {
		m.mu.Unlock()
		return "", &vault.PersistenceError{Op: "write", Path: m.path, Err: err}
	}
	m.current = next
	m.mu.Unlock()

	logging.Audit("ConnKey", "connection key generated",
		slog.String("reason", reason),
		slog.String("fingerprint", logging.Fingerprint(next.Key)))
	metrics.KeyRotations.WithLabelValues(reason).Inc()
	m.notify(next.Key)
	return next.Key, nil
}

func (m *Manager) fresh(k Key) bool {
	if k.Key == "" {
		return false
	}
	return m.clock.Now().Sub(k.CreatedAt) < m.validity
}

func (m *Manager) readFile() (Key, error) {
	var k Key
	data, err := os.ReadFile(m.path)
	if err != nil {
		return k, err
	}
	if err := json.Unmarshal(data, &k); err != nil {
		return k, fmt.Errorf("failed to parse %s: %w", m.path, err)
	}
	return k, nil
}

func (m *Manager) notify(key string) {
	m.handlersMu.RLock()
	handlers := append([]RotationHandler(nil), m.handlers...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(key)
	}
}
