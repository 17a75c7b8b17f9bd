package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a store backed by miniredis
func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	store, mr := setupTestRedis(t, time.Hour)
	ctx := context.Background()

	bound := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := store.Save(ctx, &Binding{ConversationID: "conv-1", SessionID: "abc123", BoundAt: bound})
	require.NoError(t, err)

	assert.True(t, mr.Exists(bindingPrefix+"conv-1"))
	isMember, err := mr.SIsMember(bindingIndex, "conv-1")
	require.NoError(t, err)
	assert.True(t, isMember)
	assert.Equal(t, time.Hour, mr.TTL(bindingPrefix+"conv-1"))

	got, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.SessionID)
	assert.True(t, bound.Equal(got.BoundAt))
}

func TestRedisStore_SaveReplaces(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Binding{ConversationID: "conv-1", SessionID: "old"}))
	require.NoError(t, store.Save(ctx, &Binding{ConversationID: "conv-1", SessionID: "new"}))

	got, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.SessionID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisStore_NoTTL(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	require.NoError(t, store.Save(context.Background(), &Binding{ConversationID: "c", SessionID: "s"}))
	assert.Equal(t, time.Duration(0), mr.TTL(bindingPrefix+"c"))
}

func TestRedisStore_InvalidBinding(t *testing.T) {
	store, _ := setupTestRedis(t, 0)
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, nil))
	assert.Error(t, store.Save(ctx, &Binding{SessionID: "s"}))
	assert.Error(t, store.Save(ctx, &Binding{ConversationID: "c"}))
}

func TestRedisStore_GetMissing(t *testing.T) {
	store, _ := setupTestRedis(t, 0)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Binding{ConversationID: "conv-1", SessionID: "abc"}))
	require.NoError(t, store.Delete(ctx, "conv-1"))

	assert.False(t, mr.Exists(bindingPrefix+"conv-1"))
	_, err := store.Get(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "conv-1"), ErrNotFound)
}

func TestRedisStore_ListDropsExpired(t *testing.T) {
	store, mr := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Binding{ConversationID: "b", SessionID: "s2"}))
	require.NoError(t, store.Save(ctx, &Binding{ConversationID: "a", SessionID: "s1"}))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ConversationID)
	assert.Equal(t, "b", all[1].ConversationID)

	mr.FastForward(2 * time.Minute)

	all, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	isMember, _ := mr.SIsMember(bindingIndex, "a")
	assert.False(t, isMember, "expired entries should be pruned from the index")
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	store, mr := setupTestRedis(t, 0)
	mr.Close()

	err := store.Save(context.Background(), &Binding{ConversationID: "c", SessionID: "s"})
	assert.Error(t, err)
}

func TestDialRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := DialRedisStore(context.Background(), &redis.Options{Addr: mr.Addr()}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &Binding{ConversationID: "c", SessionID: "s"}))
	assert.NoError(t, store.Close())
}

func TestDialRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := DialRedisStore(context.Background(), &redis.Options{Addr: addr, MaxRetries: -1}, 0)
	assert.Error(t, err)
}
