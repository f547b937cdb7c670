package usercache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/coinwatch/internal/domain"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCache_GetOrLoad(t *testing.T) {
	cache := NewCache(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	calls := 0
	load := func(_ context.Context, userID int64) (domain.Identity, error) {
		calls++
		return domain.Identity{UserID: userID, Name: "alice"}, nil
	}

	for i := 0; i < 3; i++ {
		id, err := cache.GetOrLoad(ctx, 1, load)
		require.NoError(t, err)
		assert.Equal(t, "alice", id.Name)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, err := cache.GetOrLoad(ctx, 1, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_LoaderErrorIsNotCached(t *testing.T) {
	cache := NewCache(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	_, err := cache.GetOrLoad(ctx, 2, func(context.Context, int64) (domain.Identity, error) {
		return domain.Identity{}, errors.New("db down")
	})
	assert.Error(t, err)

	_, ok, err := cache.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_NilIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, 1)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, cache.Set(ctx, domain.Identity{UserID: 1}))
	assert.NoError(t, cache.Invalidate(ctx, 1))
}
