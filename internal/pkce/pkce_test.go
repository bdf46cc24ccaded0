package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/internal/clock"
)

func TestGenerate(t *testing.T) {
	for i := 0; i < 20; i++ {
		p, err := Generate("github")
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(p.CodeVerifier)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(raw), 32)

		sum := sha256.Sum256([]byte(p.CodeVerifier))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), p.CodeChallenge)
		assert.NotContains(t, p.CodeChallenge, "=")
		assert.NotEmpty(t, p.State)
		assert.Equal(t, "github", p.ProviderID)
	}
}

func TestGenerate_Unique(t *testing.T) {
	a, err := Generate("google")
	require.NoError(t, err)
	b, err := Generate("google")
	require.NoError(t, err)

	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
	assert.NotEqual(t, a.State, b.State)
}

func TestChallenge_KnownVector(t *testing.T) {
	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestValidateCallback(t *testing.T) {
	pending := &Params{State: "issued-state"}

	assert.NoError(t, ValidateCallback(pending, "issued-state"))
	assert.ErrorIs(t, ValidateCallback(pending, "other-state"), ErrCSRFMismatch)
	assert.ErrorIs(t, ValidateCallback(pending, ""), ErrCSRFMismatch)
	assert.ErrorIs(t, ValidateCallback(nil, "issued-state"), ErrNoPendingFlow)
}

func TestFlowStore_ConsumeOnce(t *testing.T) {
	store := NewFlowStore(nil)
	p, err := Generate("github")
	require.NoError(t, err)
	store.Begin(p)

	got, err := store.Consume(p.State)
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = store.Consume(p.State)
	assert.ErrorIs(t, err, ErrNoPendingFlow, "a state value must not be replayable")
}

func TestFlowStore_MismatchDiscardsPending(t *testing.T) {
	store := NewFlowStore(nil)
	p, err := Generate("github")
	require.NoError(t, err)
	store.Begin(p)

	_, err = store.Consume("forged")
	assert.True(t, errors.Is(err, ErrCSRFMismatch))
	assert.Equal(t, 0, store.Len())

	_, err = store.Consume(p.State)
	assert.ErrorIs(t, err, ErrNoPendingFlow)
}

func TestFlowStore_Expiry(t *testing.T) {
	c := clock.NewMock(time.Time{})
	store := NewFlowStore(c)
	p, err := Generate("google")
	require.NoError(t, err)
	store.Begin(p)

	c.Advance(DefaultFlowExpiry + time.Second)

	assert.Equal(t, 0, store.Len())
	_, err = store.Consume(p.State)
	assert.ErrorIs(t, err, ErrNoPendingFlow)
}

func TestFlowStore_Cancel(t *testing.T) {
	store := NewFlowStore(nil)
	p, err := Generate("google")
	require.NoError(t, err)
	store.Begin(p)
	store.Cancel(p.State)
	assert.Equal(t, 0, store.Len())
}
