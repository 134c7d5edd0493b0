package csrf

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestGuard() (*Guard, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore().WithClock(clock.Now)
	return NewGuard(store, time.Hour).WithClock(clock.Now), store, clock
}

func TestGenerateStoresToken(t *testing.T) {
	g, store, _ := newTestGuard()
	ctx := context.Background()

	tok, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	rec, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, tok, rec.Token)

	again, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotEqual(t, tok, again)
	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodPost, tok), ErrTokenMismatch)
	assert.NoError(t, g.Validate(ctx, "sess-1", http.MethodPost, again))
}

func TestValidateBurstUntilExpiry(t *testing.T) {
	g, _, clock := newTestGuard()
	ctx := context.Background()
	tok, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)

	methods := []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	for i := 0; i < 20; i++ {
		clock.t = clock.t.Add(time.Minute)
		require.NoError(t, g.Validate(ctx, "sess-1", methods[i%len(methods)], tok), "request %d", i)
	}

	clock.t = clock.t.Add(time.Hour)
	for _, m := range methods {
		assert.ErrorIs(t, g.Validate(ctx, "sess-1", m, tok), ErrNoSessionToken)
	}
}

func TestValidateSafeMethodsExempt(t *testing.T) {
	g, _, _ := newTestGuard()
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		assert.NoError(t, g.Validate(context.Background(), "", m, ""))
	}
}

func TestValidateDistinctFailures(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()

	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodPost, ""), ErrMissingHeader)
	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodPost, "abc"), ErrNoSessionToken)
	assert.ErrorIs(t, g.Validate(ctx, "", http.MethodPost, "abc"), ErrNoSessionToken)

	_, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodPost, "abc"), ErrTokenMismatch)
}

func TestSessionsAreIsolated(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	a, err := g.Generate(ctx, "sess-a")
	require.NoError(t, err)
	_, err = g.Generate(ctx, "sess-b")
	require.NoError(t, err)

	assert.ErrorIs(t, g.Validate(ctx, "sess-b", http.MethodPost, a), ErrTokenMismatch)
}

func TestDestroy(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()
	tok, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, g.Destroy(ctx, "sess-1"))
	require.NoError(t, g.Destroy(ctx, "sess-1"))
	assert.ErrorIs(t, g.Validate(ctx, "sess-1", http.MethodPost, tok), ErrNoSessionToken)
}

func TestGenerateRequiresSession(t *testing.T) {
	g, _, _ := newTestGuard()
	_, err := g.Generate(context.Background(), "")
	assert.Error(t, err)
}

func TestMemoryStoreSweepsExpired(t *testing.T) {
	g, store, clock := newTestGuard()
	ctx := context.Background()
	_, err := g.Generate(ctx, "old")
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)
	_, err = g.Generate(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestSnapshotRestore(t *testing.T) {
	g, store, clock := newTestGuard()
	ctx := context.Background()

	first, err := g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	prev, err := g.Snapshot(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, prev)

	_, err = g.Generate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, g.Restore(ctx, "sess-1", prev))
	assert.NoError(t, g.Validate(ctx, "sess-1", http.MethodPost, first))

	none, err := g.Snapshot(ctx, "sess-2")
	require.NoError(t, err)
	assert.Nil(t, none)
	_, err = g.Generate(ctx, "sess-2")
	require.NoError(t, err)
	require.NoError(t, g.Restore(ctx, "sess-2", none))
	rec, err := store.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.Nil(t, rec)

	clock.t = clock.t.Add(2 * time.Hour)
	require.NoError(t, g.Restore(ctx, "sess-1", prev))
	rec, err = store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
