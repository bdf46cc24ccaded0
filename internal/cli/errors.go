package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"

	"steward/internal/pkce"
	"steward/internal/token"
)

// ConnectionErrorType categorizes why an endpoint could not be reached.
type ConnectionErrorType int

const (
	ConnectionErrorUnknown ConnectionErrorType = iota
	ConnectionErrorTLS
	ConnectionErrorNetwork
	ConnectionErrorTimeout
	ConnectionErrorDNS
)

func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError wraps a failure to reach an issuer or relay.
type ConnectionError struct {
	Endpoint string
	Type     ConnectionErrorType
	Reason   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s reaching %s: %v", e.Type, e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError returns err as a ConnectionError when it is a
// transport failure, and err unchanged otherwise.
func ClassifyConnectionError(err error, endpoint string) error {
	if err == nil {
		return nil
	}

	var (
		dnsErr     *net.DNSError
		netErr     net.Error
		opErr      *net.OpError
		hostErr    x509.HostnameError
		unknownCA  x509.UnknownAuthorityError
		invalidErr x509.CertificateInvalidError
	)
	typ := ConnectionErrorUnknown
	switch {
	case errors.As(err, &hostErr), errors.As(err, &unknownCA), errors.As(err, &invalidErr),
		strings.Contains(err.Error(), "tls:"):
		typ = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		typ = ConnectionErrorDNS
	case errors.As(err, &netErr) && netErr.Timeout():
		typ = ConnectionErrorTimeout
	case errors.As(err, &opErr):
		typ = ConnectionErrorNetwork
	default:
		return err
	}
	return &ConnectionError{Endpoint: endpoint, Type: typ, Reason: err}
}

// AuthRequiredError means no valid token exists for the provider.
type AuthRequiredError struct {
	Provider string
}

func (e *AuthRequiredError) Error() string {
	if e.Provider == "" {
		return `Not signed in to any provider

To authenticate, run:
  steward login <provider>`
	}
	return fmt.Sprintf(`No valid token for %s

To authenticate, run:
  steward login %s`, e.Provider, e.Provider)
}

// AuthFailedError means a login attempt did not complete.
type AuthFailedError struct {
	Provider string
	Reason   error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Authentication with %s failed: %v

To retry, run:
  steward login %s`, e.Provider, e.Reason, e.Provider)
}

func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// ClassifyLoginError wraps flow-integrity and exchange failures as
// AuthFailedError. Other errors (unknown provider, I/O) pass through.
func ClassifyLoginError(providerID string, err error) error {
	if err == nil {
		return nil
	}
	var exErr *token.ExchangeError
	if errors.Is(err, pkce.ErrCSRFMismatch) || errors.Is(err, pkce.ErrNoPendingFlow) ||
		errors.Is(err, token.ErrProviderUnavailable) || errors.As(err, &exErr) {
		return &AuthFailedError{Provider: providerID, Reason: err}
	}
	return err
}
