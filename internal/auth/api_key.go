package auth

import "crypto/subtle"

// APIKeyVerifier accepts a single pre-shared key. Intended for
// service-to-service deployments where per-user identity is not needed.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (Identity, error) {
	if apiKey == "" || v.Expected == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{}, nil
}
