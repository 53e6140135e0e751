package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamevault/api/internal/cart"
	"github.com/gamevault/api/internal/domain"
)

func setupCartStorage(t *testing.T, opts ...CartStorageOption) (*CartStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	storage, err := NewCartStorage(client, opts...)
	require.NoError(t, err)
	return storage, mr
}

func TestCartStorageMiss(t *testing.T) {
	storage, _ := setupCartStorage(t)

	_, err := storage.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, cart.ErrStorageMiss)
}

func TestCartStorageSetAppliesPrefixAndTTL(t *testing.T) {
	storage, mr := setupCartStorage(t, WithKeyPrefix("test:cart:"), WithTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, storage.Set(ctx, "u1", []byte(`[]`)))

	assert.True(t, mr.Exists("test:cart:u1"))
	assert.Equal(t, time.Hour, mr.TTL("test:cart:u1"))

	mr.FastForward(2 * time.Hour)
	_, err := storage.Get(ctx, "u1")
	assert.ErrorIs(t, err, cart.ErrStorageMiss)
}

func TestCartStorageUnavailable(t *testing.T) {
	storage, mr := setupCartStorage(t)
	mr.Close()

	_, err := storage.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrStorageMiss)
	assert.Error(t, storage.Ping(context.Background()))
}

func TestCartStorageBacksStore(t *testing.T) {
	storage, _ := setupCartStorage(t)
	ctx := context.Background()

	store := cart.NewStore(ctx, storage, "u1")
	store.AddItem(ctx, cart.Entry{ID: "game-1", Type: domain.ItemTypeProduct, Name: "Zelda", Price: 60000})
	store.AddItem(ctx, cart.Entry{ID: "course-1", Type: domain.ItemTypeCourse, Name: "Soldadura", Price: 25000})
	store.AddItem(ctx, cart.Entry{ID: "game-1", Type: domain.ItemTypeProduct, Name: "Zelda", Price: 60000})

	reloaded := cart.NewStore(ctx, storage, "u1")
	assert.Equal(t, int64(145000), reloaded.Total())
	assert.Equal(t, store.Items(), reloaded.Items())
}
