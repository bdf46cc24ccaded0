package provider

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"steward/internal/clock"
	"steward/internal/vault"
	"steward/pkg/logging"
)

// Registry is the catalog of provider configurations and server providers.
// Every mutation is written through to the encrypted store before it returns;
// if the write fails the in-memory state is rolled back.
type Registry struct {
	mu    sync.RWMutex
	doc   Document
	store *vault.Store[Document]
	clock clock.Clock
}

// NewRegistry loads the registry from store and seeds built-in providers that
// are missing. A nil clock uses the system time.
func NewRegistry(store *vault.Store[Document], c clock.Clock) (*Registry, error) {
	r := &Registry{
		doc:   store.Load(),
		store: store,
		clock: clock.OrReal(c),
	}
	if r.doc.Providers == nil {
		r.doc.Providers = make(map[string]Config)
	}

	seeded := 0
	now := r.clock.Now()
	for _, builtin := range BuiltinProviders() {
		if slices.Contains(r.doc.Seeded, builtin.ID) {
			continue
		}
		r.doc.Seeded = append(r.doc.Seeded, builtin.ID)
		seeded++
		if _, exists := r.doc.Providers[builtin.ID]; exists {
			continue
		}
		builtin.CreatedAt = now
		builtin.UpdatedAt = now
		r.doc.Providers[builtin.ID] = builtin
	}
	if seeded > 0 {
		if err := r.store.Save(r.doc); err != nil {
			return nil, err
		}
		logging.Info("Registry", "Seeded %d built-in providers", seeded)
	}
	return r, nil
}

// Get returns the provider with id.
func (r *Registry) Get(id string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.doc.Providers[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return cfg.Clone(), nil
}

// List returns every provider sorted by id.
func (r *Registry) List() []Config {
	return r.list(func(Config) bool { return true })
}

// ListAvailable returns providers that have a client id.
func (r *Registry) ListAvailable() []Config {
	return r.list(Config.Available)
}

func (r *Registry) list(keep func(Config) bool) []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Config, 0, len(r.doc.Providers))
	for _, cfg := range r.doc.Providers {
		if keep(cfg) {
			result = append(result, cfg.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Upsert inserts or replaces a provider. CreatedAt is preserved across updates.
func (r *Registry) Upsert(cfg Config) error {
	if err := validate(cfg); err != nil {
		return err
	}
	return r.mutate(func(doc *Document) error {
		now := r.clock.Now()
		cfg = cfg.Clone()
		if existing, ok := doc.Providers[cfg.ID]; ok {
			cfg.CreatedAt = existing.CreatedAt
		} else {
			cfg.CreatedAt = now
		}
		cfg.UpdatedAt = now
		doc.Providers[cfg.ID] = cfg
		return nil
	})
}

// Remove deletes a provider. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) error {
	r.mu.RLock()
	_, exists := r.doc.Providers[id]
	r.mu.RUnlock()
	if !exists {
		return nil
	}
	return r.mutate(func(doc *Document) error {
		delete(doc.Providers, id)
		return nil
	})
}

// UpsertCustom is the management-surface variant of Upsert: the entry is
// marked custom and built-in providers cannot be overwritten.
func (r *Registry) UpsertCustom(cfg Config) error {
	r.mu.RLock()
	existing, exists := r.doc.Providers[cfg.ID]
	r.mu.RUnlock()
	if exists && !existing.IsCustom {
		return fmt.Errorf("%w: %s", ErrNotCustom, cfg.ID)
	}
	cfg.IsCustom = true
	return r.Upsert(cfg)
}

// RemoveCustom deletes a custom provider. Built-ins are refused.
func (r *Registry) RemoveCustom(id string) error {
	r.mu.RLock()
	existing, exists := r.doc.Providers[id]
	r.mu.RUnlock()
	if exists && !existing.IsCustom {
		return fmt.Errorf("%w: %s", ErrNotCustom, id)
	}
	return r.Remove(id)
}

// SetCredentials sets the client id and secret of an existing provider.
// Nothing is written when the values are unchanged.
func (r *Registry) SetCredentials(id, clientID, clientSecret string) error {
	r.mu.RLock()
	existing, exists := r.doc.Providers[id]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if existing.ClientID == clientID && existing.ClientSecret == clientSecret {
		return nil
	}
	existing.ClientID = clientID
	existing.ClientSecret = clientSecret
	return r.Upsert(existing)
}

// Servers returns the server providers in registration order.
func (r *Registry) Servers() []ServerProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.doc.Servers)
}

// GetServer returns the server provider with id.
func (r *Registry) GetServer(id string) (ServerProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sp := range r.doc.Servers {
		if sp.ID == id {
			return sp, nil
		}
	}
	return ServerProvider{}, fmt.Errorf("%w: server %s", ErrProviderNotFound, id)
}

// AddServer registers a server provider, replacing one with the same id in place
// so its position in the fallback order is kept.
func (r *Registry) AddServer(sp ServerProvider) error {
	if strings.TrimSpace(sp.ID) == "" || strings.TrimSpace(sp.URL) == "" {
		return fmt.Errorf("%w: server provider needs an id and a url", ErrInvalidProvider)
	}
	sp.URL = strings.TrimRight(sp.URL, "/")
	return r.mutate(func(doc *Document) error {
		for i, existing := range doc.Servers {
			if existing.ID == sp.ID {
				sp.AddedAt = existing.AddedAt
				doc.Servers[i] = sp
				return nil
			}
		}
		sp.AddedAt = r.clock.Now()
		doc.Servers = append(doc.Servers, sp)
		return nil
	})
}

// RemoveServer deletes a server provider. Removing an unknown id is a no-op.
func (r *Registry) RemoveServer(id string) error {
	if _, err := r.GetServer(id); err != nil {
		return nil
	}
	return r.mutate(func(doc *Document) error {
		doc.Servers = slices.DeleteFunc(doc.Servers, func(sp ServerProvider) bool { return sp.ID == id })
		return nil
	})
}

// mutate applies fn to a copy of the document, persists it, and only then
// swaps it in. The write lock is held throughout so concurrent edits cannot
// lose each other's changes.
func (r *Registry) mutate(fn func(*Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Document{
		Providers: make(map[string]Config, len(r.doc.Providers)),
		Servers:   slices.Clone(r.doc.Servers),
		Seeded:    r.doc.Seeded,
	}
	for id, cfg := range r.doc.Providers {
		next.Providers[id] = cfg
	}

	if err := fn(&next); err != nil {
		return err
	}
	if err := r.store.Save(next); err != nil {
		logging.Error("Registry", err, "Failed to persist registry, change discarded")
		return err
	}
	r.doc = next
	return nil
}

func validate(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.ID) == "" {
		missing = append(missing, "id")
	}
	if cfg.AuthorizationURL == "" {
		missing = append(missing, "authorizationUrl")
	}
	if cfg.TokenURL == "" {
		missing = append(missing, "tokenUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProvider, strings.Join(missing, ", "))
	}
	return nil
}
