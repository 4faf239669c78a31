package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// TokenRepo persists typed opaque tokens. Only the SHA-256 digest of a
// token value is stored (single 'value_hash' column); revocation is a
// guarded UPDATE so revoking twice is a no-op and concurrent revokes of the
// same row resolve to exactly one winner.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const tokenColumns = `id, account_id, session_id, token_type, value_hash, issued_at, expires_at, revoked_at`

// Insert stores a freshly issued token and populates its generated ID.
// A duplicate value hash surfaces as the driver error; the engine retries
// issuance with a new value.
func (r *TokenRepo) Insert(ctx context.Context, t *model.Token) error {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO tokens (account_id, session_id, token_type, value_hash, issued_at, expires_at)
		 VALUES (?,?,?,?,?,?)`,
		t.AccountID, t.SessionID, t.Type, t.ValueHash, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// InsertTx is Insert inside an existing transaction.
func (r *TokenRepo) InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tokens (account_id, session_id, token_type, value_hash, issued_at, expires_at)
		 VALUES (?,?,?,?,?,?)`,
		t.AccountID, t.SessionID, t.Type, t.ValueHash, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// FindByHashAndType fetches a token row by value hash and type.
func (r *TokenRepo) FindByHashAndType(ctx context.Context, hash string, typ model.TokenType) (model.Token, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE value_hash=? AND token_type=? LIMIT 1",
		hash, typ)
	return scanToken(row)
}

func scanToken(row rowScanner) (model.Token, error) {
	var (
		t         model.Token
		sessionID sql.NullInt64
		revokedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.AccountID, &sessionID, &t.Type, &t.ValueHash,
		&t.IssuedAt, &t.ExpiresAt, &revokedAt)
	if err != nil {
		return model.Token{}, err
	}
	if sessionID.Valid {
		id := uint64(sessionID.Int64)
		t.SessionID = &id
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return t, nil
}

// RevokeByHash marks a token revoked. Returns true when this call did the
// revocation, false when the token was already revoked or does not exist.
// The guard is what makes refresh rotation single-use under concurrency.
func (r *TokenRepo) RevokeByHash(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE tokens SET revoked_at=? WHERE value_hash=? AND revoked_at IS NULL",
		at.UTC(), hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RevokeByHashTx is RevokeByHash inside an existing transaction.
func (r *TokenRepo) RevokeByHashTx(ctx context.Context, tx *sql.Tx, hash string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE tokens SET revoked_at=? WHERE value_hash=? AND revoked_at IS NULL",
		at.UTC(), hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RevokeAllForAccount revokes every active token of the account, optionally
// narrowed to one type (empty string means all types).
func (r *TokenRepo) RevokeAllForAccount(ctx context.Context, accountID uint64, typ model.TokenType, at time.Time) error {
	return revokeAllForAccount(ctx, r.DB, accountID, typ, at)
}

// RevokeAllForAccountTx is RevokeAllForAccount inside an existing transaction.
func (r *TokenRepo) RevokeAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, typ model.TokenType, at time.Time) error {
	return revokeAllForAccount(ctx, tx, accountID, typ, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func revokeAllForAccount(ctx context.Context, ex execer, accountID uint64, typ model.TokenType, at time.Time) error {
	q := "UPDATE tokens SET revoked_at=? WHERE account_id=? AND revoked_at IS NULL"
	args := []any{at.UTC(), accountID}
	if typ != "" {
		q += " AND token_type=?"
		args = append(args, typ)
	}
	_, err := ex.ExecContext(ctx, q, args...)
	return err
}

// DeleteSpent removes revoked and expired rows. Called by the sweeper; the
// returned count is logged only.
func (r *TokenRepo) DeleteSpent(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM tokens WHERE revoked_at IS NOT NULL OR expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
