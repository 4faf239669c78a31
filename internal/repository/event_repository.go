package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// EventRepo maintains the processed_events dedup ledger. A consumer inserts
// the event id in the same transaction as the mutation it guards; the
// unique key on event_id turns redelivery into ErrEventProcessed.
type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

// InsertTx records the event id inside the caller's transaction. Returns
// ErrEventProcessed when the ledger already holds the id.
func (r *EventRepo) InsertTx(ctx context.Context, tx *sql.Tx, eventID string, occurredAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, occurred_at) VALUES (?,?)",
		eventID, occurredAt.UTC())
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrEventProcessed
		}
		return err
	}
	return nil
}
