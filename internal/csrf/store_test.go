package csrf

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
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "csrf"), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Set(ctx, "sess-1", Record{Token: "abc", ExpiresAt: exp}, time.Hour))
	assert.True(t, mr.Exists("csrf:sess-1"))
	assert.Equal(t, time.Hour, mr.TTL("csrf:sess-1"))

	rec, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.Token)
	assert.True(t, exp.Equal(rec.ExpiresAt))

	require.NoError(t, store.Delete(ctx, "sess-1"))
	rec, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStoreExpiresKeys(t *testing.T) {
	store, mr := newRedisStore(t)
	g := NewGuard(store, time.Minute)
	ctx := context.Background()

	tok, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, g.Validate(ctx, "sess-1", http.MethodDelete, tok))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodDelete, tok), ErrNoSessionToken)
}
