package connkey

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"steward/pkg/logging"
)

const (
	// DebounceInterval collapses the burst of events an atomic replace produces.
	DebounceInterval = 200 * time.Millisecond

	// PollInterval is used when fsnotify is unavailable.
	PollInterval = 5 * time.Second

	expiryCheckInterval = time.Hour
)

// Watch keeps the key in sync with the key file until ctx is done, so a
// `steward key regenerate` run from another process takes effect here too.
// It also rotates the key when it outlives its validity window.
func (m *Manager) Watch(ctx context.Context) error {
	expiry := time.NewTicker(expiryCheckInterval)
	defer expiry.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("ConnKey", "fsnotify not available, falling back to polling: %v", err)
		return m.poll(ctx, expiry.C)
	}
	defer watcher.Close()

	// Watch the directory: atomic replaces swap the inode under the file name.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		logging.Warn("ConnKey", "Failed to watch %s, falling back to polling: %v", filepath.Dir(m.path), err)
		return m.poll(ctx, expiry.C)
	}
	logging.Debug("ConnKey", "Watching %s for external key changes", m.path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(DebounceInterval)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error("ConnKey", err, "fsnotify error")

		case <-debounce:
			debounce = nil
			m.reloadLogged()

		case <-expiry.C:
			m.rotateIfExpiredLogged()
		}
	}
}

func (m *Manager) poll(ctx context.Context, expiry <-chan time.Time) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.reloadLogged()
		case <-expiry:
			m.rotateIfExpiredLogged()
		}
	}
}

func (m *Manager) reloadLogged() {
	if _, err := m.Reload(); err != nil {
		logging.Debug("ConnKey", "Key file reload skipped: %v", err)
	}
}

func (m *Manager) rotateIfExpiredLogged() {
	if _, err := m.RotateIfExpired(); err != nil {
		logging.Error("ConnKey", err, "Failed to rotate expired connection key")
	}
}
