package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"golang.org/x/net/websocket"

	"steward/internal/config"
	"steward/internal/provider"
)

func testConfig(t *testing.T) config.StewardConfig {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Channel.Port = 0
	cfg.Auth.CallbackPort = 0
	cfg.ConnectionKey.Watch = false
	return cfg
}

func TestInitializeServices_AppliesProviderConfig(t *testing.T) {
	keyring.MockInit()
	cfg := testConfig(t)
	cfg.Auth.Providers = map[string]config.ProviderCredentials{
		"github":  {ClientID: "gh-client", ClientSecret: "gh-secret"},
		"google":  {ClientID: "g-client", RedirectURI: "http://localhost:9999/callback"},
		"unknown": {ClientID: "ignored"},
	}
	cfg.Auth.Relays = []config.RelayConfig{{ID: "main", URL: "https://relay.example.com/"}}

	s, err := InitializeServices(cfg, nil)
	require.NoError(t, err)

	gh, err := s.Registry.Get("github")
	require.NoError(t, err)
	assert.Equal(t, "gh-client", gh.ClientID)
	assert.Equal(t, "gh-secret", gh.ClientSecret)
	assert.True(t, gh.Available())

	google, err := s.Registry.Get("google")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/callback", google.RedirectURI)

	servers := s.Registry.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "main", servers[0].Name)
	assert.Equal(t, "https://relay.example.com", servers[0].URL)

	_, err = os.Stat(filepath.Join(cfg.DataDir, providersFile))
	assert.NoError(t, err)
}

func TestInitializeServices_RelaysSeededOnlyWhenAbsent(t *testing.T) {
	keyring.MockInit()
	cfg := testConfig(t)
	cfg.Auth.Relays = []config.RelayConfig{{ID: "main", Name: "Main", URL: "https://relay.example.com"}}

	s, err := InitializeServices(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Registry.AddServer(provider.ServerProvider{ID: "main", Name: "Moved", URL: "https://relay2.example.com"}))

	again, err := InitializeServices(cfg, nil)
	require.NoError(t, err)
	sp, err := again.Registry.GetServer("main")
	require.NoError(t, err)
	assert.Equal(t, "https://relay2.example.com", sp.URL)
}

func TestInitializeServices_PassphraseKeySource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.KeySource = config.KeySourcePassphrase
	cfg.Vault.PassphraseEnv = "STEWARD_TEST_PASSPHRASE"

	_, err := InitializeServices(cfg, nil)
	assert.Error(t, err, "passphrase variable unset")

	t.Setenv("STEWARD_TEST_PASSPHRASE", "correct horse battery staple")
	cfg.Auth.Providers = map[string]config.ProviderCredentials{"github": {ClientID: "gh"}}
	_, err = InitializeServices(cfg, nil)
	require.NoError(t, err)

	reopened, err := InitializeServices(testConfigWithDir(cfg), nil)
	require.NoError(t, err)
	gh, err := reopened.Registry.Get("github")
	require.NoError(t, err)
	assert.Equal(t, "gh", gh.ClientID)
}

// testConfigWithDir drops the credentials so a reopened registry can only
// know them from the encrypted file.
func testConfigWithDir(cfg config.StewardConfig) config.StewardConfig {
	cfg.Auth.Providers = nil
	return cfg
}

func TestRun_HeadlessServesChannelUntilCancelled(t *testing.T) {
	keyring.MockInit()
	cfg := testConfig(t)

	s, err := InitializeServices(cfg, nil)
	require.NoError(t, err)
	a := &Application{config: &Config{NoConsole: true, StewardConfig: &cfg}, services: s}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Server.Port() != 0 }, 2*time.Second, 10*time.Millisecond)

	url := fmt.Sprintf("ws://127.0.0.1:%d/?key=%s", s.Server.Port(), s.Keys.Key())
	conn, err := websocket.Dial(url, "", "http://127.0.0.1/")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Channel.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.Keys.Regenerate()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Channel.Clients() == 0 }, time.Second, 5*time.Millisecond)
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
