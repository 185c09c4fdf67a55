package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter implements ratelimit.Limiter with a sorted set per key, so
// every API replica shares the same budget
type RateLimiter struct {
	client *redis.Client
	clock  clock.Clock
}

// Allow implements ratelimit.Limiter
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	if limit <= 0 {
		return ratelimit.Decision{Allowed: true}, nil
	}

	now := l.clock.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, l.client, []string{key},
		now,
		window.Milliseconds(),
		limit,
		fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("rate limit %s: unexpected reply length %d", key, len(res))
	}

	return ratelimit.Decision{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]).UTC(),
	}, nil
}
