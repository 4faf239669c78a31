// Package queue defines the domain events exchanged over the message broker
// and the consumer that applies them to the mirrored profile store.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Queue names. Events is durable; messages that exhaust their retry budget
// are diverted to the dead-letter queue for operator inspection.
const (
	AccountEventsQueue = "account.events"
	DeadLetterQueue    = "account.events.dlq"
)

// Event types carried in the envelope.
const (
	EventAccountCreated     = "account.created"
	EventUsernameChanged    = "account.username_changed"
	EventEmailChanged       = "account.email_changed"
	EventSessionsTerminated = "account.sessions_terminated"
)

// AccountEvent is the envelope for every published domain event. EventID is
// producer-assigned and is the key consumers dedup on; delivery is
// at-least-once, so the id must survive redelivery unchanged.
type AccountEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	AccountID     uint64    `json:"account_id"`
	Username      string    `json:"username,omitempty"`
	Email         string    `json:"email,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// NewAccountEvent builds an envelope with a fresh UUID and occurrence time.
func NewAccountEvent(eventType string, accountID uint64) AccountEvent {
	return AccountEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC(),
		AccountID:     accountID,
	}
}
