// Package ratelimit implements the fixed-window rate limiter of spec.md
// §4.B: a single check-and-increment operation keyed by (principal,
// operation). It generalizes internal/auth/ratelimit.go's per-IP login
// limiter (Redis INCR+EXPIRE) into a generic key/limit/window primitive
// that every operator-exposed operation calls before doing storage work.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/telemetry"
)

// Limiter enforces fixed-window rate limits. The counter is best-effort:
// losing it across a node restart (Redis failover, cold cache) is
// acceptable per spec.md §4.B.
type Limiter struct {
	redis *redis.Client
}

// New creates a Limiter backed by the given Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{redis: rdb}
}

// Check performs check-and-increment for key under limit within window. It
// returns apierr.RateLimited when the window's count has already reached
// limit. Key should already encode the (principal, operation) pair, e.g.
// "jobs.enqueue:<user>".
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) error {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return fmt.Errorf("incrementing rate limit counter: %w", err)
	}

	if count == 1 {
		// First hit in this window: start the TTL. A race between two
		// first hits both setting TTL is harmless — both set the same
		// duration from "now".
		if err := l.redis.Expire(ctx, redisKey, window).Err(); err != nil {
			return fmt.Errorf("setting rate limit window: %w", err)
		}
	}

	if int(count) > limit {
		scope, _, _ := strings.Cut(key, ":")
		telemetry.RateLimitRejectedTotal.WithLabelValues(scope).Inc()
		return apierr.RateLimited(fmt.Sprintf("rate limit exceeded for %s", key))
	}

	return nil
}

// Reset clears the counter for key, used by tests and by operations that
// want to forgive a prior failed attempt (not used by the core engine
// itself, but kept for parity with the teacher's RateLimiter.Reset).
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, fmt.Sprintf("ratelimit:%s", key)).Err()
}
