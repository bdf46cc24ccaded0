package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"steward/pkg/logging"
)

const (
	dirPerm  = 0700
	filePerm = 0600
)

// Store persists one value of type T as an encrypted file.
type Store[T any] struct {
	mu     sync.Mutex
	path   string
	sealer *Sealer
}

// NewStore returns a Store for path sealed with sealer.
func NewStore[T any](path string, sealer *Sealer) *Store[T] {
	return &Store[T]{path: path, sealer: sealer}
}

// Path returns the file backing the store.
func (s *Store[T]) Path() string {
	return s.path
}

// Load returns the stored value, or the zero value of T when the file is
// missing or cannot be decrypted or parsed.
func (s *Store[T]) Load() T {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value T
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Vault", "Failed to read %s, starting empty: %v", s.path, err)
		}
		return value
	}

	plaintext, err := s.sealer.Open(payload)
	if err != nil {
		logging.Warn("Vault", "Failed to decrypt %s (key rotated?), starting empty", s.path)
		return value
	}
	if err := json.Unmarshal(plaintext, &value); err != nil {
		logging.Warn("Vault", "Failed to parse %s, starting empty: %v", s.path, err)
		var empty T
		return empty
	}
	return value
}

// Save encrypts value and atomically replaces the file.
func (s *Store[T]) Save(value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := json.Marshal(value)
	if err != nil {
		return &PersistenceError{Op: "marshal", Path: s.path, Err: err}
	}
	payload, err := s.sealer.Seal(plaintext)
	if err != nil {
		return &PersistenceError{Op: "seal", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, payload); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	logging.Debug("Vault", "Saved %s", s.path)
	return nil
}

// Delete removes the file. A missing file is not an error.
func (s *Store[T]) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PersistenceError{Op: "delete", Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path. The directory is created 0700 and the file ends up 0600.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteFileAtomic exposes the owner-only atomic write for unencrypted files
// such as the connection key.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}
