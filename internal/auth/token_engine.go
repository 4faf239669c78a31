package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
	"github.com/JSalazarAlt/registration-auth-service/internal/utils"
)

// Default lifetimes. Access tokens are signed claims and never stored;
// every other credential is an opaque stored token whose expiry is checked
// against the wall clock on each validation.
const (
	DefaultAccessTTL       = 15 * time.Minute
	DefaultRefreshTTL      = 30 * 24 * time.Hour
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = 24 * time.Hour
)

// issueRetries bounds retries on a value-hash collision. Values carry 384
// bits of entropy, so a collision is a broken RNG, not a normal outcome.
const issueRetries = 3

// SessionTokens is the credential pair returned by login and rotation.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenEngine issues, validates, rotates, and revokes typed opaque tokens,
// and mints the signed access tokens that accompany a refresh token.
type TokenEngine struct {
	tokens    TokenStore
	accounts  AccountStore
	tx        TxRunner
	jwtSecret string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration

	now func() time.Time
}

func NewTokenEngine(tokens TokenStore, accounts AccountStore, tx TxRunner, jwtSecret string) *TokenEngine {
	return &TokenEngine{
		tokens:          tokens,
		accounts:        accounts,
		tx:              tx,
		jwtSecret:       jwtSecret,
		AccessTTL:       DefaultAccessTTL,
		RefreshTTL:      DefaultRefreshTTL,
		VerificationTTL: DefaultVerificationTTL,
		ResetTTL:        DefaultResetTTL,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Issue generates a fresh opaque token of the given type and stores its
// digest. The raw value is returned exactly once. tx may be nil, in which
// case the insert runs on the root handle.
func (e *TokenEngine) Issue(ctx context.Context, tx *sql.Tx, accountID uint64, sessionID *uint64, typ model.TokenType, ttl time.Duration) (string, model.Token, error) {
	var lastErr error
	for range issueRetries {
		opaque, err := utils.NewOpaqueToken(ttl)
		if err != nil {
			return "", model.Token{}, err
		}
		t := model.Token{
			AccountID: accountID,
			SessionID: sessionID,
			Type:      typ,
			ValueHash: utils.HashTokenRaw(opaque.Raw),
			IssuedAt:  e.now(),
			ExpiresAt: opaque.Exp,
		}
		if tx != nil {
			err = e.tokens.InsertTx(ctx, tx, &t)
		} else {
			err = e.tokens.Insert(ctx, &t)
		}
		if err == nil {
			return opaque.Raw, t, nil
		}
		lastErr = err
	}
	return "", model.Token{}, lastErr
}

// IssueSessionTokens mints the access/refresh pair for a session: a signed
// short-lived access token plus a stored REFRESH token bound to the session.
func (e *TokenEngine) IssueSessionTokens(ctx context.Context, tx *sql.Tx, a model.Account, sessionID uint64) (SessionTokens, error) {
	access, err := utils.NewAccessToken(e.jwtSecret, a.ID, a.Role, sessionID, e.AccessTTL)
	if err != nil {
		return SessionTokens{}, err
	}
	raw, t, err := e.Issue(ctx, tx, a.ID, &sessionID, model.TokenRefresh, e.RefreshTTL)
	if err != nil {
		return SessionTokens{}, err
	}
	return SessionTokens{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.Exp,
		RefreshToken:     raw,
		RefreshExpiresAt: t.ExpiresAt,
	}, nil
}

// Find looks up a token by raw value and type, collapsing not-found,
// expired, and revoked into ErrInvalidToken.
func (e *TokenEngine) Find(ctx context.Context, raw string, typ model.TokenType) (model.Token, error) {
	t, err := e.tokens.FindByHashAndType(ctx, utils.HashTokenRaw(raw), typ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, ErrInvalidToken
		}
		return model.Token{}, err
	}
	if !t.Valid(e.now()) {
		return model.Token{}, ErrInvalidToken
	}
	return t, nil
}

// IsValid reports whether the raw value names a live token of the type.
func (e *TokenEngine) IsValid(ctx context.Context, raw string, typ model.TokenType) bool {
	_, err := e.Find(ctx, raw, typ)
	return err == nil
}

// FindAccountByToken resolves a live token of the type to its owning account.
func (e *TokenEngine) FindAccountByToken(ctx context.Context, raw string, typ model.TokenType) (model.Account, error) {
	t, err := e.Find(ctx, raw, typ)
	if err != nil {
		return model.Account{}, err
	}
	a, err := e.accounts.GetByID(ctx, t.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrInvalidToken
		}
		return model.Account{}, err
	}
	return a, nil
}

// Rotate consumes a refresh token and issues a new session pair for the
// same account and session. Revoke and issue commit in one transaction
// that re-reads the account row under FOR UPDATE, so a rotation and a
// revoke-all on the same account serialize: whichever locks the row second
// sees the other's writes. The revoke itself is a guarded UPDATE, so of
// any number of concurrent rotations of the same value exactly one
// proceeds; the rest fail with ErrInvalidToken. If issuance fails after
// the revoke the transaction rolls back and the token stays consumable.
func (e *TokenEngine) Rotate(ctx context.Context, refreshRaw string) (SessionTokens, model.Account, error) {
	t, err := e.Find(ctx, refreshRaw, model.TokenRefresh)
	if err != nil {
		return SessionTokens{}, model.Account{}, err
	}
	if t.SessionID == nil {
		return SessionTokens{}, model.Account{}, ErrInvalidToken
	}
	var (
		pair SessionTokens
		a    model.Account
	)
	err = e.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		a, err = e.accounts.GetForUpdateTx(ctx, tx, t.AccountID)
		if err != nil {
			return err
		}
		won, err := e.tokens.RevokeByHashTx(ctx, tx, t.ValueHash, e.now())
		if err != nil {
			return err
		}
		if !won {
			return ErrInvalidToken
		}
		pair, err = e.IssueSessionTokens(ctx, tx, a, *t.SessionID)
		return err
	})
	if err != nil {
		return SessionTokens{}, model.Account{}, err
	}
	return pair, a, nil
}

// RevokeByValue marks the named token revoked. Revoking an already-revoked
// or unknown value is a no-op.
func (e *TokenEngine) RevokeByValue(ctx context.Context, raw string) error {
	_, err := e.tokens.RevokeByHash(ctx, utils.HashTokenRaw(raw), e.now())
	return err
}

// RevokeAllForAccount revokes every live token of the account, optionally
// narrowed to one type.
func (e *TokenEngine) RevokeAllForAccount(ctx context.Context, accountID uint64, typ model.TokenType) error {
	return e.tokens.RevokeAllForAccount(ctx, accountID, typ, e.now())
}
