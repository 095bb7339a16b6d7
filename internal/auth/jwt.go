package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	// HMAC-SHA256 output is 32 bytes, which is 43 chars in base64url-no-pad.
	hmacSigB64Len    = 43
	maxHeaderB64Len  = 4 * 1024
	maxPayloadB64Len = 16 * 1024
)

// b64url is strict base64url without padding: non-canonical trailing bits are
// rejected, so each signature/claims blob has exactly one valid encoding.
var b64url = base64.RawURLEncoding.Strict()

type jwtVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) Verifier {
	return jwtVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Exp   *int64 `json:"exp"`
	Nbf   *int64 `json:"nbf"`
	Iat   *int64 `json:"iat"`
}

// Verify checks an HS256 token against the shared secret and returns the
// identity claims used for audit logging.
//
// Requirements: pinned alg (HS256), valid signature, `exp` present and in the
// future, `nbf` (when present) in the past, `sub` present and non-empty.
func (v jwtVerifier) Verify(token string) (Identity, error) {
	headerB64, payloadB64, sigB64, ok := splitToken(token)
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}

	headerJSON, err := b64url.DecodeString(headerB64)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	var header jwtHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	if header.Alg != "HS256" {
		// Reject alg confusion outright, including "none".
		return Identity{}, ErrUnsupportedJWT
	}

	gotSig, err := b64url.DecodeString(sigB64)
	if err != nil || len(gotSig) != sha256.Size {
		return Identity{}, ErrInvalidCredentials
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(headerB64))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write([]byte(payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return Identity{}, ErrInvalidCredentials
	}

	payloadJSON, err := b64url.DecodeString(payloadB64)
	if err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	var claims jwtClaims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Identity{}, ErrInvalidCredentials
	}

	now := v.now().Unix()
	if claims.Exp == nil || now >= *claims.Exp {
		return Identity{}, ErrInvalidCredentials
	}
	if claims.Nbf != nil && now < *claims.Nbf {
		return Identity{}, ErrInvalidCredentials
	}
	if claims.Sub == "" {
		return Identity{}, ErrInvalidCredentials
	}

	return Identity{Subject: claims.Sub, Email: claims.Email}, nil
}

func splitToken(token string) (headerB64, payloadB64, sigB64 string, ok bool) {
	if token == "" || len(token) > maxHeaderB64Len+1+maxPayloadB64Len+1+hmacSigB64Len {
		return "", "", "", false
	}
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return "", "", "", false
	}
	payloadB64, sigB64, found = strings.Cut(rest, ".")
	if !found || strings.Contains(sigB64, ".") {
		return "", "", "", false
	}
	if headerB64 == "" || payloadB64 == "" {
		return "", "", "", false
	}
	if len(headerB64) > maxHeaderB64Len || len(payloadB64) > maxPayloadB64Len {
		return "", "", "", false
	}
	if len(sigB64) != hmacSigB64Len {
		return "", "", "", false
	}
	return headerB64, payloadB64, sigB64, true
}
