package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piavik/PhotoShare/internal/models"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRevocationStore_DenyAndCheck(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRevocationStore(client)
	ctx := context.Background()

	denied, err := store.IsDenied(ctx, "some-token")
	require.NoError(t, err)
	assert.False(t, denied)

	require.NoError(t, store.Deny(ctx, "some-token", time.Minute))

	denied, err = store.IsDenied(ctx, "some-token")
	require.NoError(t, err)
	assert.True(t, denied)

	// Denying again just refreshes the TTL.
	require.NoError(t, store.Deny(ctx, "some-token", time.Minute))

	// Entries expire on their own.
	mr.FastForward(2 * time.Minute)
	denied, err = store.IsDenied(ctx, "some-token")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestRevocationStore_ErrorsPropagate(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewRevocationStore(client)
	mr.SetError("store down")

	_, err := store.IsDenied(context.Background(), "some-token")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = store.Deny(context.Background(), "some-token", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestUserCache_RoundTrip(t *testing.T) {
	mr, client := setupRedis(t)
	userCache := NewUserCache(client)
	ctx := context.Background()

	snap, err := userCache.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, snap)

	in := &models.UserSnapshot{
		ID:       1,
		Username: "alice",
		Email:    "alice@example.com",
		Role:     models.RoleUser,
	}
	require.NoError(t, userCache.Set(ctx, "alice@example.com", in, time.Minute))

	snap, err = userCache.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, in, snap)

	mr.FastForward(2 * time.Minute)
	snap, err = userCache.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUserCache_Invalidate(t *testing.T) {
	_, client := setupRedis(t)
	userCache := NewUserCache(client)
	ctx := context.Background()

	in := &models.UserSnapshot{ID: 1, Email: "alice@example.com"}
	require.NoError(t, userCache.Set(ctx, "alice@example.com", in, time.Minute))
	require.NoError(t, userCache.Invalidate(ctx, "alice@example.com"))

	snap, err := userCache.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, snap)

	// Invalidating a missing entry is not an error.
	require.NoError(t, userCache.Invalidate(ctx, "alice@example.com"))
}

func TestUserCache_CorruptEntryIsAMiss(t *testing.T) {
	mr, client := setupRedis(t)
	userCache := NewUserCache(client)
	ctx := context.Background()

	require.NoError(t, mr.Set("user:alice@example.com", "{not json"))

	snap, err := userCache.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, snap)
	// The broken entry was dropped.
	assert.False(t, mr.Exists("user:alice@example.com"))
}

func TestUserCache_ErrorIsReportedNotFatal(t *testing.T) {
	mr, client := setupRedis(t)
	userCache := NewUserCache(client)
	mr.SetError("cache down")

	snap, err := userCache.Get(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, snap)
}
