package token

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"steward/internal/vault"
	"steward/pkg/logging"
)

// Document is the encrypted on-disk form of the token vault.
type Document struct {
	Active string                    `json:"active,omitempty"`
	Tokens map[string]ProviderTokens `json:"tokens"`
}

// Validator returns a usable version of tokens. An error for which IsDead
// holds means the tokens must be forgotten.
type Validator interface {
	ValidTokens(ctx context.Context, tokens *ProviderTokens) (*ProviderTokens, error)
}

// ChangeHandler is called after tokens for a provider are stored or cleared.
// tokens is nil when the record was removed.
type ChangeHandler func(providerID string, tokens *ProviderTokens)

// Vault holds the tokens of every provider the user is signed in to, plus the
// active provider whose token is handed to local tools.
type Vault struct {
	mu        sync.Mutex
	doc       Document
	store     *vault.Store[Document]
	validator Validator

	// checks runs the read, refresh and write-back of one provider as a unit,
	// so no caller refreshes with a refresh token another caller already spent.
	checks singleflight.Group

	handlersMu sync.RWMutex
	handlers   []ChangeHandler
}

// NewVault loads the vault from store.
func NewVault(store *vault.Store[Document], validator Validator) *Vault {
	doc := store.Load()
	if doc.Tokens == nil {
		doc.Tokens = make(map[string]ProviderTokens)
	}
	return &Vault{doc: doc, store: store, validator: validator}
}

// OnTokensChanged registers a handler. Handlers run synchronously in
// registration order after the change has been persisted.
func (v *Vault) OnTokensChanged(h ChangeHandler) {
	v.handlersMu.Lock()
	defer v.handlersMu.Unlock()
	v.handlers = append(v.handlers, h)
}

// Put stores tokens and makes their provider the active one.
func (v *Vault) Put(tokens *ProviderTokens) error {
	v.mu.Lock()
	next := v.cloneLocked()
	next.Tokens[tokens.ProviderID] = *tokens
	next.Active = tokens.ProviderID
	if err := v.store.Save(next); err != nil {
		v.mu.Unlock()
		return err
	}
	v.doc = next
	v.mu.Unlock()

	logging.Audit("TokenVault", "tokens stored",
		slog.String("provider", tokens.ProviderID),
		slog.String("token", logging.Fingerprint(tokens.AccessToken)))
	stored := *tokens
	v.notify(tokens.ProviderID, &stored)
	return nil
}

// Get returns the stored tokens for providerID without validating them.
func (v *Vault) Get(providerID string) (*ProviderTokens, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	t, ok := v.doc.Tokens[providerID]
	if !ok {
		return nil, false
	}
	return &t, true
}

// ActiveProvider returns the provider id whose tokens answer token requests.
func (v *Vault) ActiveProvider() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.doc.Active
}

// Providers lists the provider ids with stored tokens.
func (v *Vault) Providers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, 0, len(v.doc.Tokens))
	for id := range v.doc.Tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete removes the tokens of providerID. Deleting an unknown provider is a no-op.
func (v *Vault) Delete(providerID string) error {
	v.mu.Lock()
	if _, ok := v.doc.Tokens[providerID]; !ok {
		v.mu.Unlock()
		return nil
	}
	next := v.cloneLocked()
	delete(next.Tokens, providerID)
	if next.Active == providerID {
		next.Active = ""
	}
	if err := v.store.Save(next); err != nil {
		v.mu.Unlock()
		return err
	}
	v.doc = next
	v.mu.Unlock()

	logging.Audit("TokenVault", "tokens cleared", slog.String("provider", providerID))
	v.notify(providerID, nil)
	return nil
}

// Clear removes every stored token.
func (v *Vault) Clear() error {
	for _, id := range v.Providers() {
		if err := v.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Current returns valid tokens for the active provider, refreshing them when
// needed. Refreshed tokens are written back; tokens that cannot be refreshed
// are cleared and nil is returned.
func (v *Vault) Current(ctx context.Context) *ProviderTokens {
	active := v.ActiveProvider()
	if active == "" {
		return nil
	}
	return v.Valid(ctx, active)
}

// Valid is Current for a specific provider. Concurrent calls for one provider
// share a single check. The check outlives ctx: tokens refreshed after the
// caller gave up are still stored.
func (v *Vault) Valid(ctx context.Context, providerID string) *ProviderTokens {
	ch := v.checks.DoChan(providerID, func() (any, error) {
		return v.check(context.WithoutCancel(ctx), providerID)
	})

	select {
	case res := <-ch:
		tokens, _ := res.Val.(*ProviderTokens)
		if res.Err != nil || tokens == nil {
			return nil
		}
		valid := *tokens
		return &valid
	case <-ctx.Done():
		logging.Debug("TokenVault", "Caller stopped waiting for %s tokens: %v", providerID, ctx.Err())
		return nil
	}
}

func (v *Vault) check(ctx context.Context, providerID string) (*ProviderTokens, error) {
	stored, ok := v.Get(providerID)
	if !ok {
		return nil, nil
	}

	valid, err := v.validator.ValidTokens(ctx, stored)
	switch {
	case IsDead(err):
		if rerr := v.replace(stored, nil); rerr != nil {
			logging.Error("TokenVault", rerr, "Failed to clear dead tokens for %s", providerID)
		}
		return nil, err
	case err != nil:
		return nil, err
	case valid.AccessToken != stored.AccessToken || valid.RefreshToken != stored.RefreshToken:
		if rerr := v.replace(stored, valid); rerr != nil {
			logging.Error("TokenVault", rerr, "Failed to persist refreshed tokens for %s", providerID)
		}
	}
	return valid, nil
}

// replace swaps the record read as old for next, or removes it when next is
// nil. Nothing happens if the record changed since old was read, for example
// because the user logged in again meanwhile. The active provider only
// changes when the active record is removed.
func (v *Vault) replace(old, next *ProviderTokens) error {
	id := old.ProviderID

	v.mu.Lock()
	current, ok := v.doc.Tokens[id]
	if !ok || current.AccessToken != old.AccessToken || current.RefreshToken != old.RefreshToken {
		v.mu.Unlock()
		return nil
	}
	doc := v.cloneLocked()
	if next == nil {
		delete(doc.Tokens, id)
		if doc.Active == id {
			doc.Active = ""
		}
	} else {
		doc.Tokens[id] = *next
	}
	if err := v.store.Save(doc); err != nil {
		v.mu.Unlock()
		return err
	}
	v.doc = doc
	v.mu.Unlock()

	if next == nil {
		logging.Audit("TokenVault", "tokens cleared", slog.String("provider", id))
		v.notify(id, nil)
		return nil
	}
	logging.Audit("TokenVault", "tokens refreshed",
		slog.String("provider", id),
		slog.String("token", logging.Fingerprint(next.AccessToken)))
	stored := *next
	v.notify(id, &stored)
	return nil
}

func (v *Vault) cloneLocked() Document {
	next := Document{Active: v.doc.Active, Tokens: make(map[string]ProviderTokens, len(v.doc.Tokens))}
	for id, t := range v.doc.Tokens {
		next.Tokens[id] = t
	}
	return next
}

func (v *Vault) notify(providerID string, tokens *ProviderTokens) {
	v.handlersMu.RLock()
	handlers := append([]ChangeHandler(nil), v.handlers...)
	v.handlersMu.RUnlock()
	for _, h := range handlers {
		h(providerID, tokens)
	}
}
