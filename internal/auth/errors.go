// Package auth implements the credential and session lifecycle engine:
// account authentication and locking policy, typed token issuance and
// rotation, session management, login throttling, request idempotency, and
// the domain events other services mirror.
package auth

import (
	"errors"
	"fmt"
	"time"
)

// Closed set of terminal outcomes. None of these are retried internally;
// handlers map them onto HTTP status codes. Lookup and password failures
// collapse into ErrInvalidCredentials so responses never reveal whether an
// identifier exists.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrEmailNotVerified     = errors.New("email not verified")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrEmailRegistered      = errors.New("email already registered")
	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrInvalidToken         = errors.New("invalid token")
	ErrPasswordMismatch     = errors.New("current password does not match")
	ErrSessionNotFound      = errors.New("session not found")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrOAuthExchange        = errors.New("oauth2 authentication failed")
	ErrOAuthProvider        = errors.New("oauth2 provider error")
)

// AccountLockedError reports a login attempt against a locked account. It
// carries the remaining lock duration so clients can display a retry time
// instead of parsing message text.
type AccountLockedError struct {
	Remaining time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked for another %d minutes", int(e.Remaining.Minutes())+1)
}

// RemainingMinutes rounds the lock duration up to whole minutes.
func (e *AccountLockedError) RemainingMinutes() int {
	return int(e.Remaining.Minutes()) + 1
}
