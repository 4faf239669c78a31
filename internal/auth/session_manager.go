package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// DefaultSessionTTL matches the refresh token lifetime: a session outliving
// its last refresh token would be unreachable anyway.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionManager creates and terminates sessions. Global termination pairs
// the session update with refresh-token revocation inside one transaction;
// neither half can land without the other.
type SessionManager struct {
	sessions SessionStore
	tokens   TokenStore
	accounts AccountStore
	tx       TxRunner

	SessionTTL time.Duration

	now func() time.Time
}

func NewSessionManager(sessions SessionStore, tokens TokenStore, accounts AccountStore, tx TxRunner) *SessionManager {
	return &SessionManager{
		sessions:   sessions,
		tokens:     tokens,
		accounts:   accounts,
		tx:         tx,
		SessionTTL: DefaultSessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateTx persists a new active session for the account within the
// caller's transaction and returns it with the generated ID set.
func (m *SessionManager) CreateTx(ctx context.Context, tx *sql.Tx, accountID uint64, meta model.SessionMetadata) (model.Session, error) {
	now := m.now()
	s := model.Session{
		AccountID:      accountID,
		Active:         true,
		UserAgent:      meta.UserAgent,
		DeviceName:     meta.DeviceName,
		IPAddress:      meta.IPAddress,
		LastIPAddress:  meta.IPAddress,
		Location:       meta.Location,
		ExpiresAt:      now.Add(m.SessionTTL),
		LastAccessedAt: now,
	}
	if err := m.sessions.CreateTx(ctx, tx, &s); err != nil {
		return model.Session{}, err
	}
	s.CreatedAt = now
	return s, nil
}

// Terminate deactivates one session with the given reason. Terminating an
// already-inactive session is a no-op.
func (m *SessionManager) Terminate(ctx context.Context, sessionID uint64, reason model.TerminationReason) error {
	_, err := m.sessions.Terminate(ctx, sessionID, reason, m.now())
	return err
}

// TerminateOwned deactivates a session after checking it belongs to the
// account, so one user cannot terminate another's session by id.
func (m *SessionManager) TerminateOwned(ctx context.Context, accountID, sessionID uint64, reason model.TerminationReason) error {
	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}
	if s.AccountID != accountID {
		return ErrSessionNotFound
	}
	_, err = m.sessions.Terminate(ctx, sessionID, reason, m.now())
	return err
}

// TerminateAllForAccount deactivates every active session of the account
// and revokes all its refresh tokens in the same transaction.
func (m *SessionManager) TerminateAllForAccount(ctx context.Context, accountID uint64, reason model.TerminationReason) error {
	return m.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		return m.TerminateAllForAccountTx(ctx, tx, accountID, reason)
	})
}

// TerminateAllForAccountTx is the same pairing inside an already-open
// transaction, for callers that have more to commit atomically (password
// reset, soft deletion). The account row is locked first so the bulk
// revoke serializes against a concurrent rotation of one of the tokens it
// is about to revoke.
func (m *SessionManager) TerminateAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, reason model.TerminationReason) error {
	if _, err := m.accounts.GetForUpdateTx(ctx, tx, accountID); err != nil {
		return err
	}
	now := m.now()
	if err := m.sessions.TerminateAllForAccountTx(ctx, tx, accountID, reason, now); err != nil {
		return err
	}
	return m.tokens.RevokeAllForAccountTx(ctx, tx, accountID, model.TokenRefresh, now)
}

// ListActiveForAccount returns a snapshot of the account's active sessions.
func (m *SessionManager) ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error) {
	return m.sessions.ListActiveForAccount(ctx, accountID)
}

// TouchAccess records session activity from the request path.
func (m *SessionManager) TouchAccess(ctx context.Context, sessionID uint64, ip string) error {
	return m.sessions.TouchAccess(ctx, sessionID, ip, m.now())
}
