package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/clock"
	"steward/internal/pkce"
	"steward/internal/provider"
	"steward/internal/relay"
)

// browserFollowing simulates the user approving consent: it reads state and
// redirect_uri from the authorization URL and hits the callback.
func browserFollowing(t *testing.T, mutateState func(string) string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		state := q.Get("state")
		if mutateState != nil {
			state = mutateState(state)
		}
		redirect := q.Get("redirect_uri")
		go func() {
			resp, err := http.Get(redirect + "?" + url.Values{"code": {"auth-code"}, "state": {state}}.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func newLoginFixture(t *testing.T, providers *fakeProviders) (*LoginFlow, *Vault) {
	t.Helper()
	m := NewManager(providers, relay.NewClient(), WithClock(clock.NewMock(testEpoch)))
	v, _ := newTestVault(t, m)
	return &LoginFlow{
		Providers: providers,
		Manager:   m,
		Vault:     v,
		Relay:     relay.NewClient(),
		Flows:     pkce.NewFlowStore(nil),
	}, v
}

func TestLoginFlow_Direct(t *testing.T) {
	var verifier string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code", r.PostForm.Get("code"))
		verifier = r.PostForm.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := testProvider("acme", srv.URL)
	cfg.UsePKCE = true
	flow, v := newLoginFixture(t, &fakeProviders{configs: map[string]provider.Config{"acme": cfg}})
	flow.OpenURL = browserFollowing(t, nil)

	tokens, err := flow.Login(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.NotEmpty(t, verifier)
	assert.Equal(t, "acme", v.ActiveProvider())
	assert.Equal(t, 0, flow.Flows.Len(), "the pending flow is consumed")
}

func TestLoginFlow_StateMismatch(t *testing.T) {
	exchanged := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanged = true
	}))
	defer srv.Close()

	flow, v := newLoginFixture(t, &fakeProviders{configs: map[string]provider.Config{"acme": testProvider("acme", srv.URL)}})
	flow.OpenURL = browserFollowing(t, func(string) string { return "forged-state" })

	_, err := flow.Login(context.Background(), "acme")
	assert.True(t, errors.Is(err, pkce.ErrCSRFMismatch))
	assert.False(t, exchanged, "a forged callback must never reach the token endpoint")
	assert.Empty(t, v.Providers())
	assert.Equal(t, 0, flow.Flows.Len())
}

func TestLoginFlow_ProviderError(t *testing.T) {
	flow, _ := newLoginFixture(t, &fakeProviders{configs: map[string]provider.Config{"acme": testProvider("acme", "http://127.0.0.1:1")}})
	flow.OpenURL = func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		go func() {
			resp, err := http.Get(u.Query().Get("redirect_uri") + "?error=access_denied&error_description=nope")
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	_, err := flow.Login(context.Background(), "acme")
	assert.ErrorContains(t, err, "access_denied")
}

func TestLoginFlow_ViaRelay(t *testing.T) {
	var relayURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/oauth/authorize/acme":
			redirect := r.URL.Query().Get("redirect_uri")
			authURL := relayURL + "/consent?" + url.Values{"redirect_uri": {redirect}, "state": {"relay-state"}}.Encode()
			_, _ = w.Write([]byte(`{"success":true,"authUrl":"` + authURL + `","sessionId":"sess-9","state":"relay-state"}`))
		case "/api/oauth/token/acme":
			_, _ = w.Write([]byte(`{"success":true,"tokens":{"access_token":"relay-at","expires_in":120}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	relayURL = srv.URL

	cfg := testProvider("acme", srv.URL)
	cfg.ClientID = ""
	flow, v := newLoginFixture(t, &fakeProviders{
		configs: map[string]provider.Config{"acme": cfg},
		servers: []provider.ServerProvider{{ID: "relay", URL: srv.URL}},
	})
	flow.OpenURL = browserFollowing(t, nil)

	tokens, err := flow.Login(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "relay-at", tokens.AccessToken)
	assert.Equal(t, testEpoch.UnixMilli()+120_000, tokens.ExpiresAt)
	assert.Equal(t, "acme", v.ActiveProvider())
}

func TestLoginFlow_NoCredentialsNoRelay(t *testing.T) {
	cfg := testProvider("acme", "http://127.0.0.1:1")
	cfg.ClientID = ""
	flow, _ := newLoginFixture(t, &fakeProviders{configs: map[string]provider.Config{"acme": cfg}})

	_, err := flow.Login(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
