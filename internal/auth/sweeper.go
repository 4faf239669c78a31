package auth

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often spent credentials are garbage-collected.
const DefaultSweepInterval = time.Hour

// Sweeper periodically deletes revoked and expired tokens and expired
// sessions. Validity is always decided by clock comparison at lookup time;
// the sweep only reclaims storage.
type Sweeper struct {
	tokens   TokenStore
	sessions SessionStore

	Interval time.Duration

	now func() time.Time
}

func NewSweeper(tokens TokenStore, sessions SessionStore) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		sessions: sessions,
		Interval: DefaultSweepInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps immediately and then on every interval tick until ctx is
// cancelled. Sweep errors are logged and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now()
	if n, err := s.tokens.DeleteSpent(ctx, now); err != nil {
		log.Printf("sweeper: token sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: deleted %d spent tokens", n)
	}
	if n, err := s.sessions.DeleteExpired(ctx, now); err != nil {
		log.Printf("sweeper: session sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: deleted %d expired sessions", n)
	}
}
