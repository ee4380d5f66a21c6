package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(context.Background(), mr.Addr(), 60)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func testImage(id string) *Image {
	return &Image{
		ImageID:     id,
		UserID:      "alice",
		Filename:    "cat.png",
		StorageKey:  storageKey("alice", id, "cat.png"),
		ContentType: "image/png",
		Size:        1234,
		CreatedAt:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Metadata:    map[string]interface{}{"album": "pets"},
	}
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	ctx := context.Background()

	_, err := cache.GetImage(ctx, "img-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	want := testImage("img-1")
	require.NoError(t, cache.SetImage(ctx, want))
	assert.True(t, mr.Exists("image:img-1"))
	assert.Equal(t, 60*time.Second, mr.TTL("image:img-1"))

	got, err := cache.GetImage(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, want.ImageID, got.ImageID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.StorageKey, got.StorageKey)
	assert.Equal(t, want.ContentType, got.ContentType)
	assert.Equal(t, want.Size, got.Size)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, "pets", got.Metadata["album"])

	require.NoError(t, cache.DeleteImage(ctx, "img-1"))
	_, err = cache.GetImage(ctx, "img-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedisCache_CreatedAtIsUTC(t *testing.T) {
	local := time.Local
	time.Local = time.FixedZone("EST", -5*60*60)
	t.Cleanup(func() { time.Local = local })

	cache, _ := newTestRedisCache(t)
	ctx := context.Background()
	require.NoError(t, cache.SetImage(ctx, testImage("img-utc")))

	got, err := cache.GetImage(ctx, "img-utc")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())

	data, err := json.Marshal(got)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "2024-05-06T07:08:09Z", fields["created_at"])
}

func TestRedisCache_CorruptEntry(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	require.NoError(t, mr.Set("image:bad", "\xc1"))

	_, err := cache.GetImage(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), addr, 60)
	assert.Error(t, err)
}

func TestCachedImageStore(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	log, _ := newTestLogger()
	ctx := context.Background()

	backing := newMemImageStore()
	require.NoError(t, backing.PutImage(ctx, testImage("img-1")))
	store := newCachedImageStore(backing, cache, log)

	for i := 0; i < 3; i++ {
		got, err := store.GetImage(ctx, "img-1")
		require.NoError(t, err)
		assert.Equal(t, "img-1", got.ImageID)
	}
	assert.Equal(t, 1, backing.gets)
	assert.True(t, mr.Exists("image:img-1"))

	require.NoError(t, store.DeleteImage(ctx, "img-1"))
	assert.False(t, mr.Exists("image:img-1"))

	_, err := store.GetImage(ctx, "img-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCachedImageStore_CacheDownFallsBack(t *testing.T) {
	cache, mr := newTestRedisCache(t)
	log, hook := newTestLogger()
	ctx := context.Background()

	backing := newMemImageStore()
	require.NoError(t, backing.PutImage(ctx, testImage("img-1")))
	store := newCachedImageStore(backing, cache, log)

	mr.Close()

	got, err := store.GetImage(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, "img-1", got.ImageID)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestNewCachedImageStore_NoOp(t *testing.T) {
	log, _ := newTestLogger()
	backing := newMemImageStore()

	store := newCachedImageStore(backing, &NoOpCache{}, log)
	assert.Same(t, backing, store)
}
