package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
	"github.com/JSalazarAlt/registration-auth-service/internal/queue"
	"github.com/JSalazarAlt/registration-auth-service/internal/repository"
	"github.com/JSalazarAlt/registration-auth-service/internal/utils"
)

// idempotencyTTL bounds how long a registration idempotency key is honored.
const idempotencyTTL = 24 * time.Hour

// EventPublisher hands domain events to the relay. Implementations must be
// at-least-once; the engine never retries publication itself.
type EventPublisher interface {
	PublishAccountEvent(ctx context.Context, event queue.AccountEvent) error
}

// OAuthProfile is the identity asserted by an upstream OAuth2 provider
// after code exchange, already verified by the transport layer.
type OAuthProfile struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Authenticator orchestrates registration and login over the account state
// machine, delegating to the lockout policy on failure and to the token
// engine and session manager on success.
type Authenticator struct {
	accounts  AccountStore
	tokens    *TokenEngine
	sessions  *SessionManager
	lockout   *LockoutPolicy
	guard     *IdempotencyGuard
	publisher EventPublisher
	tx        TxRunner

	BcryptCost int

	now func() time.Time
}

func NewAuthenticator(
	accounts AccountStore,
	tokens *TokenEngine,
	sessions *SessionManager,
	lockout *LockoutPolicy,
	guard *IdempotencyGuard,
	publisher EventPublisher,
	tx TxRunner,
	bcryptCost int,
) *Authenticator {
	return &Authenticator{
		accounts:   accounts,
		tokens:     tokens,
		sessions:   sessions,
		lockout:    lockout,
		guard:      guard,
		publisher:  publisher,
		tx:         tx,
		BcryptCost: bcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput carries a registration request. IdempotencyKey is the
// client-supplied dedup key; empty disables the guard for this call.
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	IdempotencyKey string
}

// RegisterResult is the outcome of a successful registration. The
// verification token is handed to the mailer collaborator by the caller;
// the engine never sends email itself.
type RegisterResult struct {
	Account           model.Account
	VerificationToken string
}

// Register creates an unverified account, issues its email-verification
// token, and emits the account-created event the profile mirror is built
// from. A retried request with the same idempotency key fails with
// ErrDuplicateRequest instead of creating a second account.
func (s *Authenticator) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	claimed, err := s.guard.Claim(ctx, in.IdempotencyKey, idempotencyTTL)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		return RegisterResult{}, ErrDuplicateRequest
	}

	res, err := s.register(ctx, in)
	if err != nil {
		s.guard.Release(ctx, in.IdempotencyKey)
		return RegisterResult{}, err
	}

	snapshot, _ := json.Marshal(map[string]any{
		"account_id": res.Account.ID,
		"status":     "created",
	})
	if err := s.guard.Complete(ctx, in.IdempotencyKey, snapshot, idempotencyTTL); err != nil {
		log.Printf("auth: idempotency complete failed for key %q: %v", in.IdempotencyKey, err)
	}
	return res, nil
}

func (s *Authenticator) register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	hash, err := utils.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return RegisterResult{}, err
	}
	a := model.Account{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		Enabled:      true,
	}
	if err := s.accounts.Create(ctx, &a); err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameExists):
			return RegisterResult{}, ErrUsernameTaken
		case errors.Is(err, repository.ErrEmailExists):
			return RegisterResult{}, ErrEmailRegistered
		}
		return RegisterResult{}, err
	}

	raw, _, err := s.tokens.Issue(ctx, nil, a.ID, nil, model.TokenEmailVerification, s.tokens.VerificationTTL)
	if err != nil {
		return RegisterResult{}, err
	}

	ev := queue.NewAccountEvent(queue.EventAccountCreated, a.ID)
	ev.Username = a.Username
	ev.Email = a.Email
	s.publish(ctx, ev)

	return RegisterResult{Account: a, VerificationToken: raw}, nil
}

// LoginResult is the outcome of a successful authentication.
type LoginResult struct {
	Account model.Account
	Session model.Session
	Tokens  SessionTokens
}

// Login authenticates an identifier/password pair and, on success, resets
// the failure state, records the login, creates a session, and issues the
// token pair — the success-path writes share one transaction serialized on
// the account row. A failed password check records a lockout strike on an
// independent unit of work before reporting ErrInvalidCredentials.
func (s *Authenticator) Login(ctx context.Context, identifier, password string, meta model.SessionMetadata) (LoginResult, error) {
	a, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := s.checkStatus(a); err != nil {
		return LoginResult{}, err
	}

	if !utils.VerifyPassword(a.PasswordHash, password) {
		s.lockout.RecordFailedAttempt(ctx, a.ID)
		return LoginResult{}, ErrInvalidCredentials
	}

	return s.establishSession(ctx, a.ID, meta)
}

// checkStatus walks the account status gate shared by password and OAuth2
// login: disabled, unverified, locked (with auto-unlock once the lock has
// lapsed), and soft-deleted (recovered on the success path).
func (s *Authenticator) checkStatus(a model.Account) error {
	if !a.Enabled {
		return ErrAccountDisabled
	}
	if !a.EmailVerified {
		return ErrEmailNotVerified
	}
	if a.Locked {
		if a.LockedUntil == nil {
			// Administrative lock without an expiry never auto-unlocks.
			return &AccountLockedError{}
		}
		if remaining := a.LockedUntil.Sub(s.now()); remaining > 0 {
			return &AccountLockedError{Remaining: remaining}
		}
		// Lock has lapsed; the success path clears it.
	}
	return nil
}

// establishSession commits every success-path mutation atomically: the row
// is re-read under FOR UPDATE so a concurrent failed-attempt increment or
// revoke serializes against the reset, then the account is stamped, the
// session created, and the token pair issued.
func (s *Authenticator) establishSession(ctx context.Context, accountID uint64, meta model.SessionMetadata) (LoginResult, error) {
	var res LoginResult
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		a, err := s.accounts.GetForUpdateTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := s.accounts.RecordLoginTx(ctx, tx, a.ID, now); err != nil {
			return err
		}
		a.FailedLoginAttempts = 0
		a.Locked = false
		a.LockedUntil = nil
		a.Deleted = false
		a.DeletedAt = nil
		a.LastLoginAt = &now

		session, err := s.sessions.CreateTx(ctx, tx, a.ID, meta)
		if err != nil {
			return err
		}
		pair, err := s.tokens.IssueSessionTokens(ctx, tx, a, session.ID)
		if err != nil {
			return err
		}
		res = LoginResult{Account: a, Session: session, Tokens: pair}
		return nil
	})
	if err != nil {
		return LoginResult{}, err
	}
	return res, nil
}

// LoginWithOAuth signs in via an upstream provider identity: link by
// provider id first, then by email, then create a new pre-verified account.
// The status gate is shared with password login, so OAuth2 cannot bypass a
// disabled or locked account.
func (s *Authenticator) LoginWithOAuth(ctx context.Context, p OAuthProfile, meta model.SessionMetadata) (LoginResult, error) {
	a, err := s.accounts.GetByProvider(ctx, p.Provider, p.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		a, err = s.linkOrCreateOAuthAccount(ctx, p)
	}
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.checkStatus(a); err != nil {
		// A provider account skips email verification; everything else in
		// the gate still applies.
		if !errors.Is(err, ErrEmailNotVerified) {
			return LoginResult{}, err
		}
	}

	return s.establishSession(ctx, a.ID, meta)
}

func (s *Authenticator) linkOrCreateOAuthAccount(ctx context.Context, p OAuthProfile) (model.Account, error) {
	a, err := s.accounts.GetByEmail(ctx, p.Email)
	if err == nil {
		if err := s.accounts.LinkProvider(ctx, a.ID, p.Provider, p.Subject); err != nil {
			return model.Account{}, err
		}
		provider, subject := p.Provider, p.Subject
		a.OAuth2Provider = &provider
		a.OAuth2ProviderID = &subject
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, err
	}

	provider, subject := p.Provider, p.Subject
	a = model.Account{
		Username:         oauthUsername(p),
		Email:            p.Email,
		Role:             model.RoleUser,
		Enabled:          true,
		EmailVerified:    true,
		OAuth2Provider:   &provider,
		OAuth2ProviderID: &subject,
	}
	if err := s.accounts.Create(ctx, &a); err != nil {
		// The derived username may collide; retry once with the subject
		// appended, which is unique per provider.
		if errors.Is(err, repository.ErrUsernameExists) {
			a.Username = a.Username + "-" + p.Subject
			if err := s.accounts.Create(ctx, &a); err != nil {
				return model.Account{}, err
			}
		} else {
			return model.Account{}, err
		}
	}

	ev := queue.NewAccountEvent(queue.EventAccountCreated, a.ID)
	ev.Username = a.Username
	ev.Email = a.Email
	s.publish(ctx, ev)

	return a, nil
}

func oauthUsername(p OAuthProfile) string {
	if at := strings.IndexByte(p.Email, '@'); at > 0 {
		return p.Email[:at]
	}
	return p.Provider + "-" + p.Subject
}

// VerifyEmail consumes a single-use verification token and marks the email
// verified in the same transaction. An already-used token and an
// already-verified address both fail closed.
func (s *Authenticator) VerifyEmail(ctx context.Context, rawToken string) error {
	t, err := s.tokens.Find(ctx, rawToken, model.TokenEmailVerification)
	if err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		won, err := s.tokens.tokens.RevokeByHashTx(ctx, tx, t.ValueHash, s.now())
		if err != nil {
			return err
		}
		if !won {
			return ErrInvalidToken
		}
		did, err := s.accounts.MarkEmailVerifiedTx(ctx, tx, t.AccountID)
		if err != nil {
			return err
		}
		if !did {
			return ErrEmailAlreadyVerified
		}
		return nil
	})
}

// RequestPasswordReset issues a reset token for the address. The outcome is
// deliberately generic: an unknown address returns an empty token and no
// error so responses cannot be used to enumerate accounts.
func (s *Authenticator) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	raw, _, err := s.tokens.Issue(ctx, nil, a.ID, nil, model.TokenPasswordReset, s.tokens.ResetTTL)
	if err != nil {
		return "", err
	}
	return raw, nil
}

// ResetPassword consumes a single-use reset token, replaces the password
// hash, and terminates every session of the account in the same
// transaction so all other devices must authenticate again.
func (s *Authenticator) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	t, err := s.tokens.Find(ctx, rawToken, model.TokenPasswordReset)
	if err != nil {
		return err
	}
	hash, err := utils.HashPassword(newPassword, s.BcryptCost)
	if err != nil {
		return err
	}
	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		won, err := s.tokens.tokens.RevokeByHashTx(ctx, tx, t.ValueHash, s.now())
		if err != nil {
			return err
		}
		if !won {
			return ErrInvalidToken
		}
		if err := s.accounts.UpdatePasswordHashTx(ctx, tx, t.AccountID, hash); err != nil {
			return err
		}
		return s.sessions.TerminateAllForAccountTx(ctx, tx, t.AccountID, model.TerminationPasswordChanged)
	})
	if err != nil {
		return err
	}
	s.publishSessionsTerminated(ctx, t.AccountID, model.TerminationPasswordChanged)
	return nil
}

// ChangePassword verifies the current password before applying the same
// rotation-and-terminate-all treatment as a reset.
func (s *Authenticator) ChangePassword(ctx context.Context, accountID uint64, current, newPassword string) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if !utils.VerifyPassword(a.PasswordHash, current) {
		return ErrPasswordMismatch
	}
	hash, err := utils.HashPassword(newPassword, s.BcryptCost)
	if err != nil {
		return err
	}
	err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.accounts.UpdatePasswordHashTx(ctx, tx, accountID, hash); err != nil {
			return err
		}
		return s.sessions.TerminateAllForAccountTx(ctx, tx, accountID, model.TerminationPasswordChanged)
	})
	if err != nil {
		return err
	}
	s.publishSessionsTerminated(ctx, accountID, model.TerminationPasswordChanged)
	return nil
}

// Logout consumes a refresh token: the token is revoked and its session
// terminated. Reusing the token afterwards fails with ErrInvalidToken.
func (s *Authenticator) Logout(ctx context.Context, refreshRaw string) error {
	t, err := s.tokens.Find(ctx, refreshRaw, model.TokenRefresh)
	if err != nil {
		return err
	}
	won, err := s.tokens.tokens.RevokeByHash(ctx, t.ValueHash, s.now())
	if err != nil {
		return err
	}
	if !won {
		// A concurrent rotation or revoke-all consumed the token between
		// the lookup and the revoke; the session is no longer ours to end.
		return ErrInvalidToken
	}
	if t.SessionID != nil {
		if err := s.sessions.Terminate(ctx, *t.SessionID, model.TerminationLogout); err != nil {
			return err
		}
	}
	if err := s.accounts.SetLastLogout(ctx, t.AccountID, s.now()); err != nil {
		log.Printf("auth: last_logout_at update failed for account %d: %v", t.AccountID, err)
	}
	return nil
}

// TerminateAllSessions logs the account out everywhere with the given
// reason and announces it to mirroring services.
func (s *Authenticator) TerminateAllSessions(ctx context.Context, accountID uint64, reason model.TerminationReason) error {
	if err := s.sessions.TerminateAllForAccount(ctx, accountID, reason); err != nil {
		return err
	}
	s.publishSessionsTerminated(ctx, accountID, reason)
	return nil
}

// SoftDelete flags the account deleted and terminates everything in one
// transaction. The row survives; a later successful login reactivates it.
func (s *Authenticator) SoftDelete(ctx context.Context, accountID uint64) error {
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		if err := s.accounts.SoftDeleteTx(ctx, tx, accountID, s.now()); err != nil {
			return err
		}
		return s.sessions.TerminateAllForAccountTx(ctx, tx, accountID, model.TerminationAccountDeleted)
	})
	if err != nil {
		return err
	}
	s.publishSessionsTerminated(ctx, accountID, model.TerminationAccountDeleted)
	return nil
}

// UpdateUsername renames the account and notifies mirroring services.
func (s *Authenticator) UpdateUsername(ctx context.Context, accountID uint64, username string) error {
	if err := s.accounts.UpdateUsername(ctx, accountID, username); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return ErrUsernameTaken
		}
		return err
	}
	ev := queue.NewAccountEvent(queue.EventUsernameChanged, accountID)
	ev.Username = username
	s.publish(ctx, ev)
	return nil
}

// UpdateEmail changes the address, requiring re-verification, and notifies
// mirroring services. The returned token confirms the new address.
func (s *Authenticator) UpdateEmail(ctx context.Context, accountID uint64, email string) (string, error) {
	if err := s.accounts.UpdateEmail(ctx, accountID, email); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return "", ErrEmailRegistered
		}
		return "", err
	}
	raw, _, err := s.tokens.Issue(ctx, nil, accountID, nil, model.TokenEmailVerification, s.tokens.VerificationTTL)
	if err != nil {
		return "", err
	}
	ev := queue.NewAccountEvent(queue.EventEmailChanged, accountID)
	ev.Email = email
	s.publish(ctx, ev)
	return raw, nil
}

func (s *Authenticator) publishSessionsTerminated(ctx context.Context, accountID uint64, reason model.TerminationReason) {
	ev := queue.NewAccountEvent(queue.EventSessionsTerminated, accountID)
	ev.Reason = string(reason)
	s.publish(ctx, ev)
}

// publish hands an event to the relay. The relay owns retries and
// dead-lettering; an error here means even the dead-letter queue refused
// the event, which is logged rather than failing the user's request.
func (s *Authenticator) publish(ctx context.Context, ev queue.AccountEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAccountEvent(ctx, ev); err != nil {
		log.Printf("auth: publish %s (%s) failed: %v", ev.EventType, ev.EventID, err)
	}
}
