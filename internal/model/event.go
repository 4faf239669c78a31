package model

import "time"

// ProcessedEvent is a dedup ledger row in the `processed_events` table.
// The ID is the producer-assigned UUID from the event envelope; its
// uniqueness constraint is what makes consumption idempotent under
// redelivery.
type ProcessedEvent struct {
	EventID    string    // processed_events.event_id
	OccurredAt time.Time // processed_events.occurred_at
}

// UserProfile is the denormalized mirror of an account kept by the profile
// side of the system (cmd/worker). It is written only by the event consumer,
// never by the auth core directly.
type UserProfile struct {
	AccountID uint64    // user_profiles.account_id
	Username  string    // user_profiles.username
	Email     string    // user_profiles.email
	CreatedAt time.Time // user_profiles.created_at
	UpdatedAt time.Time // user_profiles.updated_at
}
