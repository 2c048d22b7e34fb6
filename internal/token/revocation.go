package token

import (
	"context"
	"fmt"
	"time"

	"github.com/opsgate/opsgate/internal/database"
)

// RedisRevocations is a shared revocation list over Redis. Keys carry a TTL
// matching the token's remaining lifetime, so the set cleans itself up as
// tokens expire naturally.
type RedisRevocations struct {
	rdb *database.Redis
}

// NewRedisRevocations creates a RedisRevocations.
func NewRedisRevocations(rdb *database.Redis) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func revocationKey(tokenID string) string {
	return fmt.Sprintf("revoked:%s", tokenID)
}

// Add marks a token id revoked until its natural expiry.
func (r *RedisRevocations) Add(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.rdb.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// Contains reports whether a token id is revoked. This is a synchronous
// round trip; verification depends on it being current.
func (r *RedisRevocations) Contains(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation set: %w", err)
	}
	return n > 0, nil
}
