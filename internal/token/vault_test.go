package token

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/clock"
	"steward/internal/provider"
	"steward/internal/vault"
)

type stubValidator struct {
	result *ProviderTokens
	err    error
	calls  int
}

func (s *stubValidator) ValidTokens(_ context.Context, tokens *ProviderTokens) (*ProviderTokens, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return nil, ErrRefreshExhausted
	}
	if s.result.AccessToken == "" {
		return tokens, nil
	}
	return s.result, nil
}

func newTestVault(t *testing.T, validator Validator) (*Vault, *vault.Store[Document]) {
	t.Helper()
	key := make([]byte, vault.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := vault.NewSealer(key)
	require.NoError(t, err)
	store := vault.NewStore[Document](filepath.Join(t.TempDir(), "tokens.enc"), sealer)
	return NewVault(store, validator), store
}

func TestVault_PutGetPersist(t *testing.T) {
	v, store := newTestVault(t, &stubValidator{})

	var events []string
	v.OnTokensChanged(func(providerID string, tokens *ProviderTokens) {
		if tokens == nil {
			events = append(events, "cleared:"+providerID)
			return
		}
		events = append(events, "stored:"+providerID)
	})

	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))
	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "google", AccessToken: "go"}))
	assert.Equal(t, "google", v.ActiveProvider())
	assert.Equal(t, []string{"github", "google"}, v.Providers())

	reloaded := NewVault(store, &stubValidator{})
	got, ok := reloaded.Get("github")
	require.True(t, ok)
	assert.Equal(t, "gh", got.AccessToken)
	assert.Equal(t, "google", reloaded.ActiveProvider())

	require.NoError(t, v.Delete("google"))
	require.NoError(t, v.Delete("google"))
	assert.Empty(t, v.ActiveProvider())
	assert.Equal(t, []string{"stored:github", "stored:google", "cleared:google"}, events)

	require.NoError(t, v.Clear())
	assert.Empty(t, v.Providers())
}

func TestVault_Current(t *testing.T) {
	t.Run("valid token is returned as is", func(t *testing.T) {
		validator := &stubValidator{result: &ProviderTokens{}}
		v, _ := newTestVault(t, validator)
		require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))

		got := v.Current(context.Background())
		require.NotNil(t, got)
		assert.Equal(t, "gh", got.AccessToken)
		assert.Equal(t, 1, validator.calls)
	})

	t.Run("refreshed token is written back", func(t *testing.T) {
		validator := &stubValidator{result: &ProviderTokens{ProviderID: "github", AccessToken: "gh-2"}}
		v, _ := newTestVault(t, validator)
		require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))

		got := v.Current(context.Background())
		require.NotNil(t, got)
		assert.Equal(t, "gh-2", got.AccessToken)

		stored, ok := v.Get("github")
		require.True(t, ok)
		assert.Equal(t, "gh-2", stored.AccessToken)
	})

	t.Run("dead token is cleared", func(t *testing.T) {
		v, _ := newTestVault(t, &stubValidator{})
		require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))

		assert.Nil(t, v.Current(context.Background()))
		_, ok := v.Get("github")
		assert.False(t, ok)
	})

	t.Run("expired without refresh token is cleared", func(t *testing.T) {
		v, _ := newTestVault(t, &stubValidator{err: fmt.Errorf("%w for github", ErrNoRefreshToken)})
		require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))

		assert.Nil(t, v.Current(context.Background()))
		_, ok := v.Get("github")
		assert.False(t, ok)
	})

	t.Run("cancellation keeps tokens", func(t *testing.T) {
		v, _ := newTestVault(t, &stubValidator{err: context.Canceled})
		require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))

		assert.Nil(t, v.Current(context.Background()))
		stored, ok := v.Get("github")
		require.True(t, ok)
		assert.Equal(t, "gh", stored.AccessToken)
		assert.Equal(t, "github", v.ActiveProvider())
	})

	t.Run("no active provider", func(t *testing.T) {
		validator := &stubValidator{}
		v, _ := newTestVault(t, validator)
		assert.Nil(t, v.Current(context.Background()))
		assert.Equal(t, 0, validator.calls)
	})
}

func TestVault_ValidKeepsActiveProvider(t *testing.T) {
	validator := &stubValidator{result: &ProviderTokens{ProviderID: "github", AccessToken: "gh-2"}}
	v, _ := newTestVault(t, validator)
	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "github", AccessToken: "gh"}))
	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "google", AccessToken: "go"}))

	var activeSeen []string
	v.OnTokensChanged(func(string, *ProviderTokens) {
		activeSeen = append(activeSeen, v.ActiveProvider())
	})

	got := v.Valid(context.Background(), "github")
	require.NotNil(t, got)
	assert.Equal(t, "gh-2", got.AccessToken)
	assert.Equal(t, "google", v.ActiveProvider())
	assert.Equal(t, []string{"google"}, activeSeen)
}

func TestVault_RefreshOutlivesCaller(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"rt2","expires_in":3600}`))
	}))
	defer srv.Close()

	c := clock.NewMock(testEpoch)
	m := newTestManager(&fakeProviders{configs: map[string]provider.Config{"acme": testProvider("acme", srv.URL)}}, c)
	v, store := newTestVault(t, m)
	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "acme", AccessToken: "old", RefreshToken: "rt1", ExpiresAt: c.Now().Add(-time.Minute).UnixMilli()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Nil(t, v.Current(ctx))

	stored, ok := v.Get("acme")
	require.True(t, ok, "tokens must survive the caller giving up")
	assert.Equal(t, "old", stored.AccessToken)

	close(release)
	require.Eventually(t, func() bool {
		stored, ok := v.Get("acme")
		return ok && stored.AccessToken == "fresh"
	}, 5*time.Second, 10*time.Millisecond)

	reloaded := NewVault(store, m)
	stored, ok = reloaded.Get("acme")
	require.True(t, ok)
	assert.Equal(t, "rt2", stored.RefreshToken)
	assert.Equal(t, "acme", reloaded.ActiveProvider())
	assert.Equal(t, int32(1), hits.Load())
}

// rotatingTokenEndpoint accepts each refresh token once and answers with
// short-lived tokens, so every validation has to refresh again.
func rotatingTokenEndpoint(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var (
		mu       sync.Mutex
		current  = "rt-0"
		next     int
		rejected atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("refresh_token") != current {
			rejected.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		next++
		current = fmt.Sprintf("rt-%d", next)
		_, _ = fmt.Fprintf(w, `{"access_token":"at-%d","refresh_token":%q,"expires_in":60}`, next, current)
	}))
	t.Cleanup(srv.Close)
	return srv, &rejected
}

func TestVault_ConcurrentValidationNeverReusesRefreshToken(t *testing.T) {
	srv, rejected := rotatingTokenEndpoint(t)
	c := clock.NewMock(testEpoch)
	m := newTestManager(&fakeProviders{configs: map[string]provider.Config{"acme": testProvider("acme", srv.URL)}}, c)
	v, _ := newTestVault(t, m)
	require.NoError(t, v.Put(&ProviderTokens{ProviderID: "acme", AccessToken: "at-0", RefreshToken: "rt-0", ExpiresAt: c.Now().UnixMilli()}))

	const rounds, callers = 20, 8
	for round := 0; round < rounds; round++ {
		var wg sync.WaitGroup
		results := make(chan *ProviderTokens, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(delay time.Duration) {
				defer wg.Done()
				time.Sleep(delay)
				results <- v.Current(context.Background())
			}(time.Duration(i) * time.Millisecond)
		}
		wg.Wait()
		close(results)

		for got := range results {
			assert.NotNil(t, got, "round %d", round)
		}
		_, ok := v.Get("acme")
		require.True(t, ok, "round %d cleared valid tokens", round)
	}
	assert.Equal(t, int32(0), rejected.Load())
}
