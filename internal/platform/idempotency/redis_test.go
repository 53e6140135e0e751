package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_ReserveSaveReplay(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key|uid", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "key|uid", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	header := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"12"}}
	require.NoError(t, store.SaveResponse(ctx, "key|uid", "fp", Response{Status: 200, Headers: header, Body: []byte(`{"ok":true}`)}, fixedTime, time.Hour))

	res, err = store.Reserve(ctx, "key|uid", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, 200, res.Record.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, string(res.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
}

func TestRedisStore_FingerprintMismatch(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "key", "fp-2", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStore_ReleaseAndExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "key", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "key"))

	res, err := store.Reserve(ctx, "key", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	mr.FastForward(2 * time.Minute)
	res, err = store.Reserve(ctx, "key", "other", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}
