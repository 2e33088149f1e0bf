package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/revocation"
)

func newStore(t *testing.T) (*revocation.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return revocation.New(client, "oauth"), mr
}

func TestRevokeAndIsRevoked(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.False(t, store.IsRevoked(ctx, "hash-1"))
	require.NoError(t, store.Revoke(ctx, "hash-1", time.Minute))
	require.True(t, store.IsRevoked(ctx, "hash-1"))
	require.False(t, store.IsRevoked(ctx, "hash-2"))
}

func TestRevokeEntryExpiresWithToken(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "hash-1", time.Second))
	require.True(t, store.IsRevoked(ctx, "hash-1"))

	mr.FastForward(2 * time.Second)
	require.False(t, store.IsRevoked(ctx, "hash-1"))
}

func TestRevokeSkipsExpiredTokens(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	// A token already past expiry needs no denylist entry.
	require.NoError(t, store.Revoke(ctx, "hash-1", -time.Second))
	require.False(t, store.IsRevoked(ctx, "hash-1"))
	require.Empty(t, mr.Keys())
}

func TestNilClientIsNoop(t *testing.T) {
	store := revocation.New(nil, "oauth")
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "hash-1", time.Minute))
	require.False(t, store.IsRevoked(ctx, "hash-1"))
}

func TestDegradesWhenRedisDown(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "hash-1", time.Minute))
	mr.Close()

	// Lookup errors degrade to not-revoked; the database check remains
	// authoritative.
	require.False(t, store.IsRevoked(ctx, "hash-1"))
}
