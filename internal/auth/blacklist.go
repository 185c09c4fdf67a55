package auth

import (
	"context"
	"time"

	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalBlacklist keeps revoked tokens in process memory. Revocations are
// lost on restart and are not shared between replicas.
type LocalBlacklist struct {
	entries *expirable.LRU[string, time.Time]
	clock   clock.Clock
}

// NewLocalBlacklist creates a blacklist holding up to size tokens for at
// most maxTTL each.
func NewLocalBlacklist(size int, maxTTL time.Duration, clk clock.Clock) *LocalBlacklist {
	return &LocalBlacklist{
		entries: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		clock:   clk,
	}
}

// Revoke implements Blacklist.
func (b *LocalBlacklist) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	expiresAt := b.clock.Now().Add(ttl)
	if existing, ok := b.entries.Peek(tokenHash); ok && existing.After(expiresAt) {
		return nil
	}
	b.entries.Add(tokenHash, expiresAt)
	return nil
}

// IsRevoked implements Blacklist.
func (b *LocalBlacklist) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	expiresAt, ok := b.entries.Get(tokenHash)
	if !ok {
		return false, nil
	}
	if !b.clock.Now().Before(expiresAt) {
		b.entries.Remove(tokenHash)
		return false, nil
	}
	return true, nil
}
