package token

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackServer_ReceivesCode(t *testing.T) {
	server := NewCallbackServer(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redirectURI, err := server.Start(ctx)
	require.NoError(t, err)
	defer server.Stop()

	assert.True(t, strings.HasPrefix(redirectURI, "http://localhost:"))
	assert.True(t, strings.HasSuffix(redirectURI, "/callback"))
	assert.NotZero(t, server.Port())

	resp, err := http.Get(redirectURI + "?code=c1&state=s1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	result, err := server.WaitForCallback(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, "c1", result.Code)
	assert.Equal(t, "s1", result.State)
	assert.NoError(t, result.Err())

	second, err := http.Get(redirectURI + "?code=c2&state=s2")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
}

func TestCallbackServer_ErrorRedirect(t *testing.T) {
	server := NewCallbackServer(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redirectURI, err := server.Start(ctx)
	require.NoError(t, err)
	defer server.Stop()

	resp, err := http.Get(redirectURI + "?error=access_denied&error_description=User+denied")
	require.NoError(t, err)
	resp.Body.Close()

	result, err := server.WaitForCallback(ctx)
	require.NoError(t, err)
	assert.True(t, result.IsError())
	assert.EqualError(t, result.Err(), "authorization denied: access_denied: User denied")
}

func TestCallbackServer_WaitTimeout(t *testing.T) {
	server := NewCallbackServer(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := server.Start(ctx)
	require.NoError(t, err)
	defer server.Stop()

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()
	result, err := server.WaitForCallback(waitCtx)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackServer_StopTwice(t *testing.T) {
	server := NewCallbackServer(0)
	_, err := server.Start(context.Background())
	require.NoError(t, err)
	server.Stop()
	server.Stop()
}
