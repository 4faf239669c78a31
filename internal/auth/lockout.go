package auth

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultLockThreshold is the number of consecutive failed password
	// checks after which an account is locked.
	DefaultLockThreshold = 5
	// DefaultLockDuration is how long an automatic lock lasts.
	DefaultLockDuration = 24 * time.Hour
)

// LockoutPolicy evaluates and mutates the per-account failure counter and
// lock state. It is invoked on every failed password check and is side
// effect only: errors are logged, never propagated, and the mutations run
// on the root database handle so the lock commits even when the enclosing
// login aborts.
type LockoutPolicy struct {
	accounts  AccountStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

func NewLockoutPolicy(accounts AccountStore) *LockoutPolicy {
	return &LockoutPolicy{
		accounts:  accounts,
		threshold: DefaultLockThreshold,
		duration:  DefaultLockDuration,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordFailedAttempt increments failed_login_attempts; at the threshold it
// locks the account for the configured duration and resets the counter.
func (p *LockoutPolicy) RecordFailedAttempt(ctx context.Context, accountID uint64) {
	n, err := p.accounts.IncrementFailedAttempts(ctx, accountID)
	if err != nil {
		log.Printf("lockout: increment failed for account %d: %v", accountID, err)
		return
	}
	if n < p.threshold {
		return
	}
	until := p.now().Add(p.duration)
	if err := p.accounts.Lock(ctx, accountID, until); err != nil {
		log.Printf("lockout: lock failed for account %d: %v", accountID, err)
	}
}
