package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimMarker is stored while the original request is still executing.
const claimMarker = "IN_PROGRESS"

// IdempotencyGuard deduplicates externally retried mutating requests. The
// claim is a single SETNX so two concurrent retries cannot both see an
// absent key and proceed. With a nil client the guard is disabled and every
// claim succeeds, mirroring how the rest of the stack degrades when Redis
// is unreachable at startup.
type IdempotencyGuard struct {
	rdb    *redis.Client
	prefix string
}

func NewIdempotencyGuard(rdb *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{rdb: rdb, prefix: "idem:"}
}

// Claim atomically claims the key for the given TTL. Returns true when the
// caller may proceed, false when another request already holds or completed
// the key.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g == nil || g.rdb == nil || key == "" {
		return true, nil
	}
	return g.rdb.SetNX(ctx, g.prefix+key, claimMarker, ttl).Result()
}

// Complete overwrites the claim with the finished result so a retried
// caller can be told the original outcome instead of re-running side
// effects.
func (g *IdempotencyGuard) Complete(ctx context.Context, key string, snapshot []byte, ttl time.Duration) error {
	if g == nil || g.rdb == nil || key == "" {
		return nil
	}
	return g.rdb.Set(ctx, g.prefix+key, snapshot, ttl).Err()
}

// Release drops an unfinished claim after the guarded operation failed, so
// the client's retry is not locked out for the full TTL. Only the marker is
// removed; a completed result stays.
func (g *IdempotencyGuard) Release(ctx context.Context, key string) {
	if g == nil || g.rdb == nil || key == "" {
		return
	}
	val, err := g.rdb.Get(ctx, g.prefix+key).Result()
	if err != nil || val != claimMarker {
		return
	}
	g.rdb.Del(ctx, g.prefix+key)
}

// Result returns the completion snapshot for a key, or nil when the key is
// absent or still in progress.
func (g *IdempotencyGuard) Result(ctx context.Context, key string) ([]byte, error) {
	if g == nil || g.rdb == nil || key == "" {
		return nil, nil
	}
	val, err := g.rdb.Get(ctx, g.prefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if val == claimMarker {
		return nil, nil
	}
	return []byte(val), nil
}
