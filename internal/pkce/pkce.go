// Package pkce generates and validates Proof Key for Code Exchange parameters
// for the authorization-code flow, and tracks the flows that are waiting for
// their browser callback.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// verifierBytes is the entropy of the code verifier before encoding.
	// 32 bytes encode to 43 base64url characters.
	verifierBytes = 32

	stateBytes = 32

	// MethodS256 is the only challenge method steward sends.
	MethodS256 = "S256"
)

var (
	// ErrCSRFMismatch means the state returned by the provider is not the one we issued.
	ErrCSRFMismatch = errors.New("oauth state mismatch")

	// ErrNoPendingFlow means a callback arrived while no authorization was in progress.
	ErrNoPendingFlow = errors.New("no pending authorization flow")
)

// Params holds the per-attempt proof-of-possession values.
type Params struct {
	CodeVerifier  string `json:"codeVerifier"`
	CodeChallenge string `json:"codeChallenge"`
	State         string `json:"state"`
	ProviderID    string `json:"providerId"`
	// SessionID is set for relay-driven flows where the relay owns the verifier.
	SessionID string `json:"sessionId,omitempty"`
}

// Generate creates fresh PKCE parameters for providerID.
func Generate(providerID string) (*Params, error) {
	verifier, err := randomString(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := randomString(stateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	return &Params{
		CodeVerifier:  verifier,
		CodeChallenge: Challenge(verifier),
		State:         state,
		ProviderID:    providerID,
	}, nil
}

// Challenge returns base64url(SHA-256(verifier)) without padding.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// ValidateCallback checks the state received on the callback against the
// pending flow. The caller must discard pending afterwards whatever the result,
// so a state value is never accepted twice.
func ValidateCallback(pending *Params, receivedState string) error {
	if pending == nil {
		return ErrNoPendingFlow
	}
	if receivedState == "" || subtle.ConstantTimeCompare([]byte(pending.State), []byte(receivedState)) != 1 {
		return ErrCSRFMismatch
	}
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
