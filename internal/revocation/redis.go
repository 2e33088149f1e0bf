// Package revocation keeps a redis denylist of revoked token hashes so
// resource-side checks reject revoked credentials without a database read.
// The database remains authoritative; this cache is best effort.
package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the redis client with a key namespace.
type Store struct {
	client    *redis.Client
	namespace string
}

// New constructs a Store. A nil client yields a no-op store.
func New(client *redis.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

// Revoke records a token hash until its natural expiry. Entries past expiry
// are harmless noise, so a non-positive ttl is skipped.
func (s *Store) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if s == nil || s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(tokenHash), "1", ttl).Err()
}

// IsRevoked reports whether the hash is on the denylist. Errors degrade to
// false: the database check still catches revoked tokens.
func (s *Store) IsRevoked(ctx context.Context, tokenHash string) bool {
	if s == nil || s.client == nil {
		return false
	}
	n, err := s.client.Exists(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (s *Store) key(tokenHash string) string {
	return s.namespace + ":revoked:" + tokenHash
}
