package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
)

// AccountRepo provides data access to the accounts table. All timestamps
// are stored and compared in UTC. Mutations that participate in a larger
// atomic operation have Tx variants; the caller commits or rolls back.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = `id, username, email, password_hash, role, enabled, email_verified,
	locked, deleted, locked_until, failed_login_attempts, oauth2_provider,
	oauth2_provider_id, last_login_at, last_logout_at, deleted_at, created_at, updated_at`

// Create inserts a new account and populates its generated ID. Duplicate
// username/email violations are translated into sentinel errors by sniffing
// the MySQL 1062 message for the offending key.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.Username = strings.TrimSpace(a.Username)
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO accounts (username, email, password_hash, role, enabled, email_verified,
			oauth2_provider, oauth2_provider_id)
		 VALUES (?,?,?,?,?,?,?,?)`,
		a.Username, a.Email, a.PasswordHash, a.Role, a.Enabled, a.EmailVerified,
		a.OAuth2Provider, a.OAuth2ProviderID)
	if err != nil {
		return duplicateKeyError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	return nil
}

// duplicateKeyError maps a MySQL 1062 duplicate-entry error onto the
// sentinel for the violated unique key; other errors pass through.
func duplicateKeyError(err error) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "1062") {
		return err
	}
	switch {
	case strings.Contains(msg, "username"):
		return ErrUsernameExists
	case strings.Contains(msg, "email"):
		return ErrEmailExists
	}
	return err
}

// GetByIdentifier fetches an account by username or normalized email.
func (r *AccountRepo) GetByIdentifier(ctx context.Context, identifier string) (model.Account, error) {
	identifier = strings.TrimSpace(identifier)
	return r.getWhere(ctx, "username=? OR email=?", identifier, strings.ToLower(identifier))
}

// GetByEmail fetches an account by normalized email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	return r.getWhere(ctx, "email=?", strings.ToLower(strings.TrimSpace(email)))
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	return r.getWhere(ctx, "id=?", id)
}

// GetByProvider fetches an account by its OAuth2 provider pair.
func (r *AccountRepo) GetByProvider(ctx context.Context, provider, providerID string) (model.Account, error) {
	return r.getWhere(ctx, "oauth2_provider=? AND oauth2_provider_id=?", provider, providerID)
}

func (r *AccountRepo) getWhere(ctx context.Context, where string, args ...any) (model.Account, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE "+where+" LIMIT 1", args...)
	return scanAccount(row)
}

// GetForUpdateTx loads the account row with a row-level lock so concurrent
// mutations on the same account serialize behind the caller's transaction.
func (r *AccountRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Account, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? FOR UPDATE", id)
	return scanAccount(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		a           model.Account
		lockedUntil sql.NullTime
		provider    sql.NullString
		providerID  sql.NullString
		lastLogin   sql.NullTime
		lastLogout  sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.Role,
		&a.Enabled, &a.EmailVerified, &a.Locked, &a.Deleted, &lockedUntil,
		&a.FailedLoginAttempts, &provider, &providerID, &lastLogin, &lastLogout,
		&deletedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	if provider.Valid {
		s := provider.String
		a.OAuth2Provider = &s
	}
	if providerID.Valid {
		s := providerID.String
		a.OAuth2ProviderID = &s
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	if lastLogout.Valid {
		t := lastLogout.Time
		a.LastLogoutAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		a.DeletedAt = &t
	}
	return a, nil
}

// IncrementFailedAttempts bumps the consecutive-failure counter and returns
// the new value. Runs on the root DB handle so the increment commits
// independently of any transaction the caller may abort.
func (r *AccountRepo) IncrementFailedAttempts(ctx context.Context, id uint64) (int, error) {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1 WHERE id=?", id)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.DB.QueryRowContext(ctx,
		"SELECT failed_login_attempts FROM accounts WHERE id=?", id).Scan(&n)
	return n, err
}

// Lock marks the account locked until the given time and resets the failure
// counter. The guard keeps a concurrent lock from being applied twice.
func (r *AccountRepo) Lock(ctx context.Context, id uint64, until time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE accounts SET locked=1, locked_until=?, failed_login_attempts=0
		 WHERE id=? AND locked=0`, until.UTC(), id)
	return err
}

// RecordLoginTx applies every success-path mutation in one statement inside
// the caller's transaction: clear the lock and failure counter, reactivate a
// soft-deleted account, and stamp last_login_at.
func (r *AccountRepo) RecordLoginTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts=0, locked=0, locked_until=NULL,
			deleted=0, deleted_at=NULL, last_login_at=?
		 WHERE id=?`, at.UTC(), id)
	return err
}

// MarkEmailVerifiedTx sets email_verified. Returns false when the flag was
// already set, so verification fails closed instead of succeeding twice.
func (r *AccountRepo) MarkEmailVerifiedTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE accounts SET email_verified=1 WHERE id=? AND email_verified=0", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdatePasswordHashTx replaces the stored password hash.
func (r *AccountRepo) UpdatePasswordHashTx(ctx context.Context, tx *sql.Tx, id uint64, hash string) error {
	_, err := tx.ExecContext(ctx, "UPDATE accounts SET password_hash=? WHERE id=?", hash, id)
	return err
}

// UpdateUsername renames the account, translating duplicates into
// ErrUsernameExists.
func (r *AccountRepo) UpdateUsername(ctx context.Context, id uint64, username string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET username=? WHERE id=?", strings.TrimSpace(username), id)
	if err != nil {
		return duplicateKeyError(err)
	}
	return nil
}

// UpdateEmail changes the address and clears the verified flag; the new
// address must be confirmed again.
func (r *AccountRepo) UpdateEmail(ctx context.Context, id uint64, email string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET email=?, email_verified=0 WHERE id=?",
		strings.ToLower(strings.TrimSpace(email)), id)
	if err != nil {
		return duplicateKeyError(err)
	}
	return nil
}

// LinkProvider attaches an OAuth2 provider pair to an existing account.
func (r *AccountRepo) LinkProvider(ctx context.Context, id uint64, provider, providerID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET oauth2_provider=?, oauth2_provider_id=? WHERE id=?",
		provider, providerID, id)
	return err
}

// SoftDeleteTx flags the account deleted. The row stays; login reactivates it.
func (r *AccountRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE accounts SET deleted=1, deleted_at=? WHERE id=? AND deleted=0", at.UTC(), id)
	return err
}

// SetLastLogout stamps accounts.last_logout_at.
func (r *AccountRepo) SetLastLogout(ctx context.Context, id uint64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE accounts SET last_logout_at=? WHERE id=?", at.UTC(), id)
	return err
}
