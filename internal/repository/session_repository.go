package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// SessionRepo provides data access to the sessions table. Termination is a
// guarded UPDATE: a session already inactive is left untouched, so the
// operation is idempotent and a terminated session never reactivates.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = `id, account_id, active, user_agent, device_name, ip_address,
	last_ip_address, location, created_at, expires_at, last_accessed_at,
	termination_reason, terminated_at`

// CreateTx inserts a session within the caller's transaction and populates
// its generated ID.
func (r *SessionRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (account_id, active, user_agent, device_name, ip_address,
			last_ip_address, location, expires_at, last_accessed_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		s.AccountID, s.Active, s.UserAgent, s.DeviceName, s.IPAddress,
		s.LastIPAddress, s.Location, s.ExpiresAt.UTC(), s.LastAccessedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID fetches a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id uint64) (model.Session, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id=? LIMIT 1", id)
	return scanSession(row)
}

func scanSession(row rowScanner) (model.Session, error) {
	var (
		s            model.Session
		reason       sql.NullString
		terminatedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.Active, &s.UserAgent, &s.DeviceName,
		&s.IPAddress, &s.LastIPAddress, &s.Location, &s.CreatedAt, &s.ExpiresAt,
		&s.LastAccessedAt, &reason, &terminatedAt)
	if err != nil {
		return model.Session{}, err
	}
	if reason.Valid {
		tr := model.TerminationReason(reason.String)
		s.TerminationReason = &tr
	}
	if terminatedAt.Valid {
		at := terminatedAt.Time
		s.TerminatedAt = &at
	}
	return s, nil
}

// Terminate deactivates one session with the given reason. Returns true when
// this call performed the termination, false when the session was already
// inactive or does not exist.
func (r *SessionRepo) Terminate(ctx context.Context, id uint64, reason model.TerminationReason, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET active=0, termination_reason=?, terminated_at=?
		 WHERE id=? AND active=1`, reason, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TerminateTx is Terminate inside an existing transaction.
func (r *SessionRepo) TerminateTx(ctx context.Context, tx *sql.Tx, id uint64, reason model.TerminationReason, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET active=0, termination_reason=?, terminated_at=?
		 WHERE id=? AND active=1`, reason, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TerminateAllForAccountTx deactivates every active session of the account.
// Callers must pair it with TokenRepo.RevokeAllForAccountTx in the same
// transaction; a session without a matching token revocation is a dangling
// authorization.
func (r *SessionRepo) TerminateAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, reason model.TerminationReason, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET active=0, termination_reason=?, terminated_at=?
		 WHERE account_id=? AND active=1`, reason, at.UTC(), accountID)
	return err
}

// ListActiveForAccount returns the account's active sessions, newest first.
// A fresh query each call; the result is a finite snapshot.
func (r *SessionRepo) ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE account_id=? AND active=1 ORDER BY created_at DESC",
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TouchAccess stamps last_accessed_at and the most recent client address.
func (r *SessionRepo) TouchAccess(ctx context.Context, id uint64, ip string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET last_accessed_at=?, last_ip_address=? WHERE id=? AND active=1",
		at.UTC(), ip, id)
	return err
}

// DeleteExpired removes sessions past their expiry, swept like tokens.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
