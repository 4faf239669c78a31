package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// The engine declares the store surface it consumes rather than depending
// on the repository structs directly, so tests run against in-memory fakes.
// internal/repository satisfies all of these.

// AccountStore is the account persistence needed by the engine.
type AccountStore interface {
	Create(ctx context.Context, a *model.Account) error
	GetByIdentifier(ctx context.Context, identifier string) (model.Account, error)
	GetByEmail(ctx context.Context, email string) (model.Account, error)
	GetByID(ctx context.Context, id uint64) (model.Account, error)
	GetByProvider(ctx context.Context, provider, providerID string) (model.Account, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Account, error)
	IncrementFailedAttempts(ctx context.Context, id uint64) (int, error)
	Lock(ctx context.Context, id uint64, until time.Time) error
	RecordLoginTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	MarkEmailVerifiedTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error)
	UpdatePasswordHashTx(ctx context.Context, tx *sql.Tx, id uint64, hash string) error
	UpdateUsername(ctx context.Context, id uint64, username string) error
	UpdateEmail(ctx context.Context, id uint64, email string) error
	LinkProvider(ctx context.Context, id uint64, provider, providerID string) error
	SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	SetLastLogout(ctx context.Context, id uint64, at time.Time) error
}

// TokenStore is the token persistence needed by the engine.
type TokenStore interface {
	Insert(ctx context.Context, t *model.Token) error
	InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error
	FindByHashAndType(ctx context.Context, hash string, typ model.TokenType) (model.Token, error)
	RevokeByHash(ctx context.Context, hash string, at time.Time) (bool, error)
	RevokeByHashTx(ctx context.Context, tx *sql.Tx, hash string, at time.Time) (bool, error)
	RevokeAllForAccount(ctx context.Context, accountID uint64, typ model.TokenType, at time.Time) error
	RevokeAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, typ model.TokenType, at time.Time) error
	DeleteSpent(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore is the session persistence needed by the engine.
type SessionStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error
	GetByID(ctx context.Context, id uint64) (model.Session, error)
	Terminate(ctx context.Context, id uint64, reason model.TerminationReason, at time.Time) (bool, error)
	TerminateTx(ctx context.Context, tx *sql.Tx, id uint64, reason model.TerminationReason, at time.Time) (bool, error)
	TerminateAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, reason model.TerminationReason, at time.Time) error
	ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error)
	TouchAccess(ctx context.Context, id uint64, ip string, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TxRunner runs a function inside one transaction boundary.
// database.TxRunner is the production implementation; tests substitute a
// runner that passes a nil tx to fakes.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}
