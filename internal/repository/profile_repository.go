package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// ProfileRepo writes the denormalized user_profiles mirror maintained by
// the event consumer. All methods are Tx variants because every mirror
// mutation must land in the same transaction as its ledger insert.
type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

// UpsertTx creates or refreshes the mirror row for an account. Upsert
// rather than plain insert so a consumer replaying history after a mirror
// rebuild converges instead of erroring.
func (r *ProfileRepo) UpsertTx(ctx context.Context, tx *sql.Tx, p *model.UserProfile) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles (account_id, username, email) VALUES (?,?,?)
		 ON DUPLICATE KEY UPDATE username=VALUES(username), email=VALUES(email)`,
		p.AccountID, p.Username, strings.ToLower(p.Email))
	return err
}

// UpdateUsernameTx renames the mirror row.
func (r *ProfileRepo) UpdateUsernameTx(ctx context.Context, tx *sql.Tx, accountID uint64, username string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE user_profiles SET username=? WHERE account_id=?", username, accountID)
	return err
}

// UpdateEmailTx changes the mirrored email address.
func (r *ProfileRepo) UpdateEmailTx(ctx context.Context, tx *sql.Tx, accountID uint64, email string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE user_profiles SET email=? WHERE account_id=?", strings.ToLower(email), accountID)
	return err
}

// GetByAccountID fetches the mirror row.
func (r *ProfileRepo) GetByAccountID(ctx context.Context, accountID uint64) (model.UserProfile, error) {
	var p model.UserProfile
	err := r.DB.QueryRowContext(ctx,
		"SELECT account_id, username, email, created_at, updated_at FROM user_profiles WHERE account_id=? LIMIT 1",
		accountID).Scan(&p.AccountID, &p.Username, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
