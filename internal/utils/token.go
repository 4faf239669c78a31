// Package utils provides the credential primitives shared by the auth
// engine: password hashing, opaque token generation and digesting, and
// signed access tokens.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 JWT along with its expiry. Access tokens
// are not stored; they are validated by signature and exp alone.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// OpaqueToken is a high-entropy random value returned to the client once.
// Only its SHA-256 digest is persisted.
type OpaqueToken struct {
	Raw string
	Exp time.Time
}

// NewAccessToken builds and signs an HS256 JWT for an account. Claims:
// sub (account id), role, sid (session id), exp and iat.
func NewAccessToken(secret string, accountID uint64, role string, sessionID uint64, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  accountID,
		"role": role,
		"sid":  sessionID,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewOpaqueToken returns a random 48-byte value hex encoded (96 chars) and
// its expiration.
func NewOpaqueToken(ttl time.Duration) (OpaqueToken, error) {
	raw, err := randomHex(48)
	if err != nil {
		return OpaqueToken{}, err
	}
	return OpaqueToken{Raw: raw, Exp: time.Now().UTC().Add(ttl)}, nil
}

// HashTokenRaw returns the SHA-256 hex digest of a raw token value. Storing
// only the digest keeps leaked database rows from authenticating anyone.
func HashTokenRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
