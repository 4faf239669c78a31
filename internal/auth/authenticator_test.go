package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/JSalazarAlt/registration-auth-service/internal/model"
	"github.com/JSalazarAlt/registration-auth-service/internal/queue"
)

type harness struct {
	clock    *fakeClock
	accounts *memAccounts
	tokens   *memTokens
	sessions *memSessions
	engine   *TokenEngine
	manager  *SessionManager
	pub      *capturePublisher
	auth     *Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		accounts: newMemAccounts(),
		tokens:   newMemTokens(),
		sessions: newMemSessions(),
		pub:      &capturePublisher{},
	}
	h.engine = NewTokenEngine(h.tokens, h.accounts, nopTx{}, "test-secret")
	h.engine.now = h.clock.Now
	h.manager = NewSessionManager(h.sessions, h.tokens, h.accounts, nopTx{})
	h.manager.now = h.clock.Now
	lockout := NewLockoutPolicy(h.accounts)
	lockout.now = h.clock.Now
	h.auth = NewAuthenticator(
		h.accounts, h.engine, h.manager, lockout,
		NewIdempotencyGuard(nil), h.pub, nopTx{}, bcrypt.MinCost,
	)
	h.auth.now = h.clock.Now
	return h
}

// registerVerified registers an account and verifies its email so it can
// log in.
func (h *harness) registerVerified(t *testing.T, username, email, password string) model.Account {
	t.Helper()
	ctx := context.Background()
	res, err := h.auth.Register(ctx, RegisterInput{Username: username, Email: email, Password: password})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	if err := h.auth.VerifyEmail(ctx, res.VerificationToken); err != nil {
		t.Fatalf("verify email %s: %v", username, err)
	}
	return res.Account
}

func (h *harness) login(t *testing.T, identifier, password string) LoginResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), identifier, password, model.SessionMetadata{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("login %s: %v", identifier, err)
	}
	return res
}

func TestRegisterIssuesVerificationTokenAndEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Account.ID == 0 {
		t.Fatal("expected an account id")
	}
	if res.Account.EmailVerified {
		t.Fatal("new accounts must start unverified")
	}
	if res.VerificationToken == "" {
		t.Fatal("expected a verification token")
	}

	created := h.pub.byType(queue.EventAccountCreated)
	if len(created) != 1 {
		t.Fatalf("expected 1 account.created event, got %d", len(created))
	}
	if created[0].AccountID != res.Account.ID || created[0].Username != "alice" {
		t.Fatalf("event does not describe the account: %+v", created[0])
	}
	if created[0].EventID == "" {
		t.Fatal("event must carry an id for consumer dedup")
	}
}

func TestRegisterDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "hunter22"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	_, err = h.auth.Register(ctx, RegisterInput{Username: "bob", Email: "alice@example.com", Password: "hunter22"})
	if !errors.Is(err, ErrEmailRegistered) {
		t.Fatalf("expected ErrEmailRegistered, got %v", err)
	}
}

func TestLoginBeforeVerificationRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := h.auth.Login(ctx, "alice", "hunter22", model.SessionMetadata{})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestLoginSuccessCreatesSessionAndTokens(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")

	res := h.login(t, "alice", "hunter22")
	if res.Session.ID == 0 || !res.Session.Active {
		t.Fatalf("expected an active session, got %+v", res.Session)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if res.Account.LastLoginAt == nil {
		t.Fatal("expected last login stamp")
	}
	if !h.engine.IsValid(context.Background(), res.Tokens.RefreshToken, model.TokenRefresh) {
		t.Fatal("refresh token should validate")
	}

	// Email works as identifier too.
	res2 := h.login(t, "alice@example.com", "hunter22")
	if res2.Account.ID != a.ID {
		t.Fatal("email login resolved a different account")
	}
	if res2.Session.ID == res.Session.ID {
		t.Fatal("each login must create its own session")
	}
}

func TestLoginUnknownIdentifierAndWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	if _, err := h.auth.Login(ctx, "nobody", "hunter22", model.SessionMetadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown identifier: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := h.auth.Login(ctx, "alice", "wrong", model.SessionMetadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLockoutAfterThresholdAndAutoUnlock(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	for i := 0; i < DefaultLockThreshold; i++ {
		_, err := h.auth.Login(ctx, "alice", "wrong", model.SessionMetadata{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	got, _ := h.accounts.GetByID(ctx, a.ID)
	if !got.Locked {
		t.Fatal("account should be locked after threshold failures")
	}
	if got.FailedLoginAttempts != 0 {
		t.Fatal("lock should reset the failure counter")
	}

	// Even the correct password is rejected while locked.
	_, err := h.auth.Login(ctx, "alice", "hunter22", model.SessionMetadata{})
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
	if locked.RemainingMinutes() <= 0 {
		t.Fatalf("expected a positive remaining lock, got %d", locked.RemainingMinutes())
	}

	// Once the lock lapses the next successful login clears it.
	h.clock.Advance(DefaultLockDuration + time.Minute)
	res := h.login(t, "alice", "hunter22")
	if res.Account.Locked || res.Account.LockedUntil != nil {
		t.Fatalf("lock should be cleared on login, got %+v", res.Account)
	}
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	for i := 0; i < DefaultLockThreshold-1; i++ {
		_, _ = h.auth.Login(ctx, "alice", "wrong", model.SessionMetadata{})
	}
	h.login(t, "alice", "hunter22")

	got, _ := h.accounts.GetByID(ctx, a.ID)
	if got.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", got.FailedLoginAttempts)
	}

	// A later failure starts counting from zero again.
	_, _ = h.auth.Login(ctx, "alice", "wrong", model.SessionMetadata{})
	got, _ = h.accounts.GetByID(ctx, a.ID)
	if got.Locked {
		t.Fatal("one failure after reset must not lock")
	}
	if got.FailedLoginAttempts != 1 {
		t.Fatalf("expected counter 1, got %d", got.FailedLoginAttempts)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")

	h.accounts.mu.Lock()
	h.accounts.byID[a.ID].Enabled = false
	h.accounts.mu.Unlock()

	_, err := h.auth.Login(context.Background(), "alice", "hunter22", model.SessionMetadata{})
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestVerifyEmailSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := h.auth.VerifyEmail(ctx, res.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := h.auth.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused token: expected ErrInvalidToken, got %v", err)
	}

	// A fresh token against an already verified address fails closed too.
	raw, _, err := h.engine.Issue(ctx, nil, res.Account.ID, nil, model.TokenEmailVerification, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := h.auth.VerifyEmail(ctx, raw); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.auth.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h.clock.Advance(h.engine.VerificationTTL + time.Minute)
	if err := h.auth.VerifyEmail(ctx, res.VerificationToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmailIsGeneric(t *testing.T) {
	h := newHarness(t)
	raw, err := h.auth.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("expected no error for unknown email, got %v", err)
	}
	if raw != "" {
		t.Fatal("unknown email must not yield a token")
	}
}

func TestResetPasswordRotatesHashAndTerminatesSessions(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	first := h.login(t, "alice", "hunter22")
	second := h.login(t, "alice", "hunter22")

	raw, err := h.auth.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil || raw == "" {
		t.Fatalf("request reset: token=%q err=%v", raw, err)
	}
	if err := h.auth.ResetPassword(ctx, raw, "n3w-secret"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// Old password is gone, new one works.
	if _, err := h.auth.Login(ctx, "alice", "hunter22", model.SessionMetadata{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: expected ErrInvalidCredentials, got %v", err)
	}
	res := h.login(t, "alice", "n3w-secret")

	// Every pre-reset session and refresh token is dead.
	for _, pre := range []LoginResult{first, second} {
		s, _ := h.sessions.GetByID(ctx, pre.Session.ID)
		if s.Active {
			t.Fatalf("session %d should be terminated", pre.Session.ID)
		}
		if s.TerminationReason == nil || *s.TerminationReason != model.TerminationPasswordChanged {
			t.Fatalf("session %d has wrong reason: %v", pre.Session.ID, s.TerminationReason)
		}
		if h.engine.IsValid(ctx, pre.Tokens.RefreshToken, model.TokenRefresh) {
			t.Fatalf("refresh token of session %d should be revoked", pre.Session.ID)
		}
	}
	if !h.engine.IsValid(ctx, res.Tokens.RefreshToken, model.TokenRefresh) {
		t.Fatal("post-reset login should hold a live refresh token")
	}

	// The token was consumed by the reset.
	if err := h.auth.ResetPassword(ctx, raw, "another"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reused reset token: expected ErrInvalidToken, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()
	res := h.login(t, "alice", "hunter22")

	if err := h.auth.ChangePassword(ctx, a.ID, "wrong", "n3w-secret"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := h.auth.ChangePassword(ctx, a.ID, "hunter22", "n3w-secret"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if h.engine.IsValid(ctx, res.Tokens.RefreshToken, model.TokenRefresh) {
		t.Fatal("the old session's refresh token should be revoked")
	}
	h.login(t, "alice", "n3w-secret")
}

func TestLogoutConsumesRefreshToken(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()
	res := h.login(t, "alice", "hunter22")

	if err := h.auth.Logout(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	s, _ := h.sessions.GetByID(ctx, res.Session.ID)
	if s.Active {
		t.Fatal("session should be terminated on logout")
	}
	if s.TerminationReason == nil || *s.TerminationReason != model.TerminationLogout {
		t.Fatalf("wrong termination reason: %v", s.TerminationReason)
	}
	got, _ := h.accounts.GetByID(ctx, a.ID)
	if got.LastLogoutAt == nil {
		t.Fatal("expected a last logout stamp")
	}

	if err := h.auth.Logout(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second logout: expected ErrInvalidToken, got %v", err)
	}
}

func TestTerminateAllSessions(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	var results []LoginResult
	for i := 0; i < 3; i++ {
		results = append(results, h.login(t, "alice", "hunter22"))
	}

	if err := h.auth.TerminateAllSessions(ctx, a.ID, model.TerminationUser); err != nil {
		t.Fatalf("terminate all: %v", err)
	}

	active, _ := h.sessions.ListActiveForAccount(ctx, a.ID)
	if len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(active))
	}
	for _, res := range results {
		if h.engine.IsValid(ctx, res.Tokens.RefreshToken, model.TokenRefresh) {
			t.Fatal("no refresh token may survive a global termination")
		}
	}
	if n := h.tokens.live(a.ID, model.TokenRefresh, h.clock.Now()); n != 0 {
		t.Fatalf("expected 0 live refresh tokens, got %d", n)
	}

	events := h.pub.byType(queue.EventSessionsTerminated)
	if len(events) != 1 || events[0].Reason != string(model.TerminationUser) {
		t.Fatalf("expected one sessions_terminated event with reason, got %+v", events)
	}
}

func TestSoftDeleteAndReactivation(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()
	res := h.login(t, "alice", "hunter22")

	if err := h.auth.SoftDelete(ctx, a.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, _ := h.accounts.GetByID(ctx, a.ID)
	if !got.Deleted || got.DeletedAt == nil {
		t.Fatalf("expected deleted flags set, got %+v", got)
	}
	if h.engine.IsValid(ctx, res.Tokens.RefreshToken, model.TokenRefresh) {
		t.Fatal("deletion must revoke refresh tokens")
	}

	// A successful login reactivates the account.
	after := h.login(t, "alice", "hunter22")
	if after.Account.Deleted || after.Account.DeletedAt != nil {
		t.Fatalf("login should clear deletion, got %+v", after.Account)
	}
}

func TestUpdateUsernameAndEmailEmitEvents(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	if err := h.auth.UpdateUsername(ctx, a.ID, "alice2"); err != nil {
		t.Fatalf("update username: %v", err)
	}
	raw, err := h.auth.UpdateEmail(ctx, a.ID, "alice2@example.com")
	if err != nil {
		t.Fatalf("update email: %v", err)
	}
	if raw == "" {
		t.Fatal("email change must issue a new verification token")
	}

	got, _ := h.accounts.GetByID(ctx, a.ID)
	if got.EmailVerified {
		t.Fatal("email change must clear the verified flag")
	}
	if err := h.auth.VerifyEmail(ctx, raw); err != nil {
		t.Fatalf("verify new address: %v", err)
	}

	if got := h.pub.byType(queue.EventUsernameChanged); len(got) != 1 || got[0].Username != "alice2" {
		t.Fatalf("bad username_changed events: %+v", got)
	}
	if got := h.pub.byType(queue.EventEmailChanged); len(got) != 1 || got[0].Email != "alice2@example.com" {
		t.Fatalf("bad email_changed events: %+v", got)
	}
}

func TestUpdateUsernameTaken(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	b := h.registerVerified(t, "bob", "bob@example.com", "hunter22")

	if err := h.auth.UpdateUsername(context.Background(), b.ID, "alice"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLoginWithOAuthCreatesVerifiedAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := OAuthProfile{Provider: "google", Subject: "sub-123", Email: "carol@example.com"}

	res, err := h.auth.LoginWithOAuth(ctx, profile, model.SessionMetadata{})
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if !res.Account.EmailVerified {
		t.Fatal("provider accounts are created verified")
	}
	if res.Account.Username != "carol" {
		t.Fatalf("expected username derived from email, got %q", res.Account.Username)
	}
	if res.Account.OAuth2Provider == nil || *res.Account.OAuth2Provider != "google" {
		t.Fatalf("provider not recorded: %+v", res.Account)
	}
	if len(h.pub.byType(queue.EventAccountCreated)) != 1 {
		t.Fatal("expected an account.created event")
	}

	// A second login with the same subject reuses the account.
	again, err := h.auth.LoginWithOAuth(ctx, profile, model.SessionMetadata{})
	if err != nil {
		t.Fatalf("second oauth login: %v", err)
	}
	if again.Account.ID != res.Account.ID {
		t.Fatal("expected the same account on repeat login")
	}
}

func TestLoginWithOAuthLinksExistingEmail(t *testing.T) {
	h := newHarness(t)
	a := h.registerVerified(t, "alice", "alice@example.com", "hunter22")
	ctx := context.Background()

	res, err := h.auth.LoginWithOAuth(ctx, OAuthProfile{Provider: "google", Subject: "sub-9", Email: "alice@example.com"}, model.SessionMetadata{})
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if res.Account.ID != a.ID {
		t.Fatal("expected the existing account to be linked, not a new one")
	}
	got, _ := h.accounts.GetByID(ctx, a.ID)
	if got.OAuth2ProviderID == nil || *got.OAuth2ProviderID != "sub-9" {
		t.Fatalf("provider id not linked: %+v", got)
	}
}

func TestLoginWithOAuthUsernameCollision(t *testing.T) {
	h := newHarness(t)
	h.registerVerified(t, "carol", "carol@corp.example", "hunter22")

	res, err := h.auth.LoginWithOAuth(context.Background(), OAuthProfile{Provider: "google", Subject: "sub-7", Email: "carol@example.com"}, model.SessionMetadata{})
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}
	if res.Account.Username != "carol-sub-7" {
		t.Fatalf("expected suffixed username, got %q", res.Account.Username)
	}
}

func TestLoginWithOAuthRespectsLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := OAuthProfile{Provider: "google", Subject: "sub-5", Email: "dave@example.com"}
	res, err := h.auth.LoginWithOAuth(ctx, profile, model.SessionMetadata{})
	if err != nil {
		t.Fatalf("oauth login: %v", err)
	}

	until := h.clock.Now().Add(time.Hour)
	if err := h.accounts.Lock(ctx, res.Account.ID, until); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err = h.auth.LoginWithOAuth(ctx, profile, model.SessionMetadata{})
	var locked *AccountLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected AccountLockedError, got %v", err)
	}
}
