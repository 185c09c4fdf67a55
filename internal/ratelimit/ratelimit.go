// Package ratelimit defines per-user request budgets and an in-process
// limiter used when no shared Redis is configured.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Buckets.
const (
	BucketGeneral = "general"
	BucketUpload  = "upload"
	BucketAdmin   = "admin"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects one request against a budget of limit requests
// per window for key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Policy maps request paths to buckets and buckets to budgets.
type Policy struct {
	Window time.Duration
	Limits map[string]int
}

// NewPolicy builds a policy from configuration.
func NewPolicy(cfg config.RateLimitConfig) (Policy, error) {
	window, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid rate_limit.window: %w", err)
	}
	return Policy{
		Window: window,
		Limits: map[string]int{
			BucketGeneral: cfg.General,
			BucketUpload:  cfg.Upload,
			BucketAdmin:   cfg.Admin,
		},
	}, nil
}

// BucketFor returns the bucket a request path is charged to.
func BucketFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/admin/"):
		return BucketAdmin
	case path == "/api/sessions/upload":
		return BucketUpload
	default:
		return BucketGeneral
	}
}

// Key is the storage key for one caller in one bucket.
func Key(bucket, id string) string {
	return "rl:" + bucket + ":" + id
}

// Local is a per-process token bucket limiter. Idle keys expire after
// a few windows so the key set stays bounded.
type Local struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	clock    clock.Clock
}

// NewLocal creates a local limiter tracking at most size keys.
func NewLocal(size int, window time.Duration, clk clock.Clock) *Local {
	return &Local{
		limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, 3*window),
		clock:    clk,
	}
}

// Allow implements Limiter.
func (l *Local) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters.Add(key, limiter)
	}

	now := l.clock.Now()
	allowed := limiter.AllowN(now, 1)

	tokens := limiter.TokensAt(now)
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	reset := now
	if tokens < 1 {
		deficit := 1 - tokens
		reset = now.Add(time.Duration(deficit * float64(window) / float64(limit)))
	}

	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: reset}, nil
}
