package model

import "time"

// TokenType distinguishes the purpose a stored token may be used for.
// A token of one type is never accepted where another type is expected.
type TokenType string

const (
	TokenRefresh           TokenType = "REFRESH"
	TokenEmailVerification TokenType = "EMAIL_VERIFICATION"
	TokenPasswordReset     TokenType = "PASSWORD_RESET"
)

// Token models a row in the `tokens` table. The plain value is returned to
// the client exactly once; only its SHA-256 hex digest is stored.
//
// A token is valid iff RevokedAt is nil and ExpiresAt is in the future.
// Revocation is the only mutation; revoked tokens are later removed by the
// sweeper together with expired ones.
type Token struct {
	ID        uint64     // tokens.id
	AccountID uint64     // tokens.account_id
	SessionID *uint64    // tokens.session_id (set for REFRESH tokens)
	Type      TokenType  // tokens.token_type
	ValueHash string     // tokens.value_hash (SHA-256 hex of the raw value)
	IssuedAt  time.Time  // tokens.issued_at
	ExpiresAt time.Time  // tokens.expires_at
	RevokedAt *time.Time // tokens.revoked_at (nullable)
}

// Valid reports whether the token is usable at the given instant.
func (t Token) Valid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
