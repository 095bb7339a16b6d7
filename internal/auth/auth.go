// Package auth gates signaling connections on a bearer credential.
//
// Verification is purely computational: no network or storage access. Token
// issuance and refresh belong to the external identity service; this package
// only checks what it is handed.
package auth

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/peercall/webrtc-signaling/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the verified caller identity. It exists for audit logging only;
// pairing and relay never branch on it.
type Identity struct {
	// Subject is the stable account identifier (JWT `sub`). Empty for
	// api_key and none modes, which carry no per-user identity.
	Subject string
	Email   string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return allowAllVerifier{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

type allowAllVerifier struct{}

func (allowAllVerifier) Verify(string) (Identity, error) {
	return Identity{}, nil
}

// CredentialFromQuery extracts the handshake credential from the WebSocket
// upgrade request's query string (`?token=` for jwt, `?apiKey=` for api_key).
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}
