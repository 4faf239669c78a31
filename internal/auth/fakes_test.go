package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
	"github.com/JSalazarAlt/registration-auth-service/internal/queue"
	"github.com/JSalazarAlt/registration-auth-service/internal/repository"
)

// In-memory stores backing the engine tests. They ignore the *sql.Tx
// parameter; nopTx passes nil so transactional and plain paths exercise the
// same maps.

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// newFakeClock starts at the wall clock because opaque token expiries are
// stamped from time.Now at issuance; only Advance moves it afterwards.
func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type nopTx struct{}

func (nopTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// serialTx runs whole transactions under one mutex, standing in for the
// account-row FOR UPDATE lock that serializes them in production.
type serialTx struct{ mu *sync.Mutex }

func (s serialTx) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(nil)
}

type memAccounts struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[uint64]*model.Account)}
}

func (m *memAccounts) Create(ctx context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.byID {
		if strings.EqualFold(other.Username, a.Username) {
			return repository.ErrUsernameExists
		}
		if strings.EqualFold(other.Email, a.Email) {
			return repository.ErrEmailExists
		}
	}
	m.nextID++
	a.ID = m.nextID
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *memAccounts) get(id uint64) (*model.Account, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (m *memAccounts) GetByIdentifier(ctx context.Context, identifier string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Username, identifier) || strings.EqualFold(a.Email, identifier) {
			return *a, nil
		}
	}
	return model.Account{}, sql.ErrNoRows
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, email) {
			return *a, nil
		}
	}
	return model.Account{}, sql.ErrNoRows
}

func (m *memAccounts) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return model.Account{}, err
	}
	return *a, nil
}

func (m *memAccounts) GetByProvider(ctx context.Context, provider, providerID string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.OAuth2Provider != nil && *a.OAuth2Provider == provider &&
			a.OAuth2ProviderID != nil && *a.OAuth2ProviderID == providerID {
			return *a, nil
		}
	}
	return model.Account{}, sql.ErrNoRows
}

func (m *memAccounts) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Account, error) {
	return m.GetByID(ctx, id)
}

func (m *memAccounts) IncrementFailedAttempts(ctx context.Context, id uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return 0, err
	}
	a.FailedLoginAttempts++
	return a.FailedLoginAttempts, nil
}

func (m *memAccounts) Lock(ctx context.Context, id uint64, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	if a.Locked {
		return nil
	}
	a.Locked = true
	a.LockedUntil = &until
	a.FailedLoginAttempts = 0
	return nil
}

func (m *memAccounts) RecordLoginTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.FailedLoginAttempts = 0
	a.Locked = false
	a.LockedUntil = nil
	a.Deleted = false
	a.DeletedAt = nil
	a.LastLoginAt = &at
	return nil
}

func (m *memAccounts) MarkEmailVerifiedTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return false, err
	}
	if a.EmailVerified {
		return false, nil
	}
	a.EmailVerified = true
	return true, nil
}

func (m *memAccounts) UpdatePasswordHashTx(ctx context.Context, tx *sql.Tx, id uint64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (m *memAccounts) UpdateUsername(ctx context.Context, id uint64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, other := range m.byID {
		if otherID != id && strings.EqualFold(other.Username, username) {
			return repository.ErrUsernameExists
		}
	}
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.Username = username
	return nil
}

func (m *memAccounts) UpdateEmail(ctx context.Context, id uint64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, other := range m.byID {
		if otherID != id && strings.EqualFold(other.Email, email) {
			return repository.ErrEmailExists
		}
	}
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.Email = email
	a.EmailVerified = false
	return nil
}

func (m *memAccounts) LinkProvider(ctx context.Context, id uint64, provider, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.OAuth2Provider = &provider
	a.OAuth2ProviderID = &providerID
	return nil
}

func (m *memAccounts) SoftDeleteTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.Deleted = true
	a.DeletedAt = &at
	return nil
}

func (m *memAccounts) SetLastLogout(ctx context.Context, id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.get(id)
	if err != nil {
		return err
	}
	a.LastLogoutAt = &at
	return nil
}

var errDuplicateHash = errors.New("duplicate value hash")

type memTokens struct {
	mu     sync.Mutex
	nextID uint64
	byHash map[string]*model.Token
}

func newMemTokens() *memTokens {
	return &memTokens{byHash: make(map[string]*model.Token)}
}

func (m *memTokens) Insert(ctx context.Context, t *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byHash[t.ValueHash]; exists {
		return errDuplicateHash
	}
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.byHash[t.ValueHash] = &cp
	return nil
}

func (m *memTokens) InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	return m.Insert(ctx, t)
}

func (m *memTokens) FindByHashAndType(ctx context.Context, hash string, typ model.TokenType) (model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byHash[hash]
	if !ok || t.Type != typ {
		return model.Token{}, sql.ErrNoRows
	}
	return *t, nil
}

func (m *memTokens) RevokeByHash(ctx context.Context, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byHash[hash]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &at
	return true, nil
}

func (m *memTokens) RevokeByHashTx(ctx context.Context, tx *sql.Tx, hash string, at time.Time) (bool, error) {
	return m.RevokeByHash(ctx, hash, at)
}

func (m *memTokens) RevokeAllForAccount(ctx context.Context, accountID uint64, typ model.TokenType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byHash {
		if t.AccountID != accountID || t.RevokedAt != nil {
			continue
		}
		if typ != "" && t.Type != typ {
			continue
		}
		revoked := at
		t.RevokedAt = &revoked
	}
	return nil
}

func (m *memTokens) RevokeAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, typ model.TokenType, at time.Time) error {
	return m.RevokeAllForAccount(ctx, accountID, typ, at)
}

func (m *memTokens) DeleteSpent(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.byHash {
		if t.RevokedAt != nil || !now.Before(t.ExpiresAt) {
			delete(m.byHash, hash)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) live(accountID uint64, typ model.TokenType, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, t := range m.byHash {
		if t.AccountID == accountID && t.Type == typ && t.Valid(now) {
			n++
		}
	}
	return n
}

type memSessions struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[uint64]*model.Session)}
}

func (m *memSessions) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSessions) GetByID(ctx context.Context, id uint64) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return model.Session{}, sql.ErrNoRows
	}
	return *s, nil
}

func (m *memSessions) Terminate(ctx context.Context, id uint64, reason model.TerminationReason, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	s.TerminationReason = &reason
	s.TerminatedAt = &at
	return true, nil
}

func (m *memSessions) TerminateTx(ctx context.Context, tx *sql.Tx, id uint64, reason model.TerminationReason, at time.Time) (bool, error) {
	return m.Terminate(ctx, id, reason, at)
}

func (m *memSessions) TerminateAllForAccountTx(ctx context.Context, tx *sql.Tx, accountID uint64, reason model.TerminationReason, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.AccountID != accountID || !s.Active {
			continue
		}
		r, t := reason, at
		s.Active = false
		s.TerminationReason = &r
		s.TerminatedAt = &t
	}
	return nil
}

func (m *memSessions) ListActiveForAccount(ctx context.Context, accountID uint64) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.byID {
		if s.AccountID == accountID && s.Active {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSessions) TouchAccess(ctx context.Context, id uint64, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.LastIPAddress = ip
	s.LastAccessedAt = at
	return nil
}

func (m *memSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.byID {
		if !now.Before(s.ExpiresAt) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []queue.AccountEvent
}

func (p *capturePublisher) PublishAccountEvent(ctx context.Context, event queue.AccountEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) byType(typ string) []queue.AccountEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []queue.AccountEvent
	for _, ev := range p.events {
		if ev.EventType == typ {
			out = append(out, ev)
		}
	}
	return out
}
