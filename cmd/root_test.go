package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"steward/internal/cli"
	"steward/internal/pkce"
)

// runCommand executes steward with args against a throwaway config dir.
func runCommand(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config-path", dir}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "steward", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	for _, name := range []string{"serve", "login", "logout", "token", "provider", "relay", "key", "version"} {
		found, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestSetVersion(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", GetVersion())
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{Use: "test", Version: "1.0.0"}
	testCmd.SetVersionTemplate(`{{printf "steward version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	require.NoError(t, testCmd.Execute())
	assert.Equal(t, "steward version 1.0.0\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth required", &cli.AuthRequiredError{Provider: "github"}, ExitCodeAuthRequired},
		{"wrapped auth required", fmt.Errorf("token: %w", &cli.AuthRequiredError{}), ExitCodeAuthRequired},
		{"auth failed", cli.ClassifyLoginError("google", pkce.ErrCSRFMismatch), ExitCodeAuthFailed},
		{"other", errors.New("boom"), ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)
	SetVersion("9.9.9")

	out, err := runCommand(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "steward version 9.9.9\n", out)
}

func TestProviderAndRelayCommands(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	out, err := runCommand(t, dir, "provider", "list")
	require.NoError(t, err)
	for _, id := range []string{"google", "github", "microsoft"} {
		assert.Contains(t, out, id)
	}

	_, err = runCommand(t, dir, "provider", "add", "acme",
		"--client-id", "acme-client",
		"--auth-url", "https://id.acme.test/authorize",
		"--token-url", "https://id.acme.test/token",
		"--scopes", "openid,email")
	require.NoError(t, err)

	out, err = runCommand(t, dir, "provider", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "acme")

	_, err = runCommand(t, dir, "provider", "remove", "github")
	assert.Error(t, err, "built-in providers cannot be removed")

	_, err = runCommand(t, dir, "provider", "remove", "acme")
	require.NoError(t, err)

	out, err = runCommand(t, dir, "relay", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No relays registered")

	_, err = runCommand(t, dir, "relay", "add", "main", "https://relay.example.com/", "--name", "Main relay")
	require.NoError(t, err)

	out, err = runCommand(t, dir, "relay", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://relay.example.com")
	assert.Contains(t, out, "Main relay")

	_, err = runCommand(t, dir, "relay", "remove", "main")
	require.NoError(t, err)
}

func TestKeyCommands(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	out, err := runCommand(t, dir, "key", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "ws://127.0.0.1:17321?key=")

	again, err := runCommand(t, dir, "key", "show")
	require.NoError(t, err)
	assert.Equal(t, out, again, "key is stable across invocations")

	rotated, err := runCommand(t, dir, "key", "regenerate")
	require.NoError(t, err)
	assert.NotContains(t, out, rotated)
}

func TestTokenWithoutLogin(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	_, err := runCommand(t, dir, "token")
	var authRequired *cli.AuthRequiredError
	require.ErrorAs(t, err, &authRequired)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestRelayProvidersCommand(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()

	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/oauth/providers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"providers":[{"id":"slack","name":"Slack","scopes":["chat:write"]}]}`)
	}))
	defer relaySrv.Close()

	_, err := runCommand(t, dir, "relay", "add", "edge", relaySrv.URL)
	require.NoError(t, err)

	out, err := runCommand(t, dir, "relay", "providers", "edge")
	require.NoError(t, err)
	assert.Contains(t, out, "slack")
	assert.Contains(t, out, "chat:write")

	_, err = runCommand(t, dir, "relay", "providers", "missing")
	assert.Error(t, err)
}
