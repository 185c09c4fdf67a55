package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist stores revoked token hashes until the token would have expired
type Blacklist struct {
	client *redis.Client
}

func blacklistKey(tokenHash string) string {
	return "bl:" + tokenHash
}

// Revoke blacklists tokenHash for ttl. A non-positive ttl is a no-op since
// the token has already expired.
func (b *Blacklist) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	seconds := int64(math.Ceil(ttl.Seconds()))
	if seconds <= 0 {
		return nil
	}

	if err := revoke.Run(ctx, b.client, []string{blacklistKey(tokenHash)}, seconds).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenHash is blacklisted
func (b *Blacklist) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	err := b.client.Get(ctx, blacklistKey(tokenHash)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return true, nil
}
