package model

import "time"

// Account represents a row in the `accounts` table. It is the canonical
// identity record; other services keep only a denormalized mirror keyed by
// the same ID, maintained through the event relay.
//
// Fields:
//  ID                  – primary key identifier of the account.
//  Username            – unique username.
//  Email               – unique, normalized (lowercase) email address.
//  PasswordHash        – bcrypt hashed password. Empty for OAuth2-only accounts.
//  Role                – role name (e.g. USER or ADMIN).
//  Enabled             – administrative on/off switch.
//  EmailVerified       – whether the email address has been confirmed.
//  Locked              – set after repeated failed logins or by an admin.
//  Deleted             – soft-delete flag; rows are never hard-deleted.
//  LockedUntil         – when a temporary lock expires (nil when not locked
//                        or when the lock is administrative/permanent).
//  FailedLoginAttempts – consecutive failed password checks; reset to zero
//                        on success and whenever Locked transitions to true.
//  OAuth2Provider      – external identity provider name (e.g. "google").
//  OAuth2ProviderID    – subject identifier at the provider; unique together
//                        with OAuth2Provider.
type Account struct {
	ID                  uint64     // accounts.id
	Username            string     // accounts.username
	Email               string     // accounts.email
	PasswordHash        string     // accounts.password_hash
	Role                string     // accounts.role
	Enabled             bool       // accounts.enabled
	EmailVerified       bool       // accounts.email_verified
	Locked              bool       // accounts.locked
	Deleted             bool       // accounts.deleted
	LockedUntil         *time.Time // accounts.locked_until (nullable)
	FailedLoginAttempts int        // accounts.failed_login_attempts
	OAuth2Provider      *string    // accounts.oauth2_provider (nullable)
	OAuth2ProviderID    *string    // accounts.oauth2_provider_id (nullable)
	LastLoginAt         *time.Time // accounts.last_login_at (nullable)
	LastLogoutAt        *time.Time // accounts.last_logout_at (nullable)
	DeletedAt           *time.Time // accounts.deleted_at (nullable)
	CreatedAt           time.Time  // accounts.created_at
	UpdatedAt           time.Time  // accounts.updated_at
}

// Roles stored in accounts.role.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)
