package model

import "time"

// TerminationReason records why a session stopped being active.
type TerminationReason string

const (
	TerminationLogout          TerminationReason = "LOGOUT"
	TerminationUser            TerminationReason = "USER_TERMINATED"
	TerminationAdmin           TerminationReason = "ADMIN_TERMINATED"
	TerminationPasswordChanged TerminationReason = "PASSWORD_CHANGED"
	TerminationAccountDeleted  TerminationReason = "ACCOUNT_SOFT_DELETED"
)

// Session models a row in the `sessions` table: one device/credential-pair
// lifetime. Active is false iff TerminationReason and TerminatedAt are set;
// a terminated session never reactivates.
type Session struct {
	ID                uint64             // sessions.id
	AccountID         uint64             // sessions.account_id
	Active            bool               // sessions.active
	UserAgent         string             // sessions.user_agent
	DeviceName        string             // sessions.device_name
	IPAddress         string             // sessions.ip_address
	LastIPAddress     string             // sessions.last_ip_address
	Location          string             // sessions.location
	CreatedAt         time.Time          // sessions.created_at
	ExpiresAt         time.Time          // sessions.expires_at
	LastAccessedAt    time.Time          // sessions.last_accessed_at
	TerminationReason *TerminationReason // sessions.termination_reason (nullable)
	TerminatedAt      *time.Time         // sessions.terminated_at (nullable)
}

// SessionMetadata carries the device and network details captured when a
// session is created. Location is resolved by the caller (GeoIP is an
// external collaborator).
type SessionMetadata struct {
	UserAgent  string
	DeviceName string
	IPAddress  string
	Location   string
}
