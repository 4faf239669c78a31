package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TxRunner executes a function within a single database transaction,
// committing on nil and rolling back on error or panic. Operations that
// must land together (session termination with token revocation, token
// consumption with the state change it authorizes) run through it.
type TxRunner struct{ DB *sql.DB }

func NewTxRunner(db *sql.DB) *TxRunner { return &TxRunner{DB: db} }

// WithinTx begins a transaction, runs fn, and commits unless fn returned an
// error. Rollback failures are ignored; the original error wins.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
