package orchestration

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSessionStore(rdb, nil), mr
}

func TestSessionStoreStatusRoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	status := SessionStatus{
		CrisisLevel:             CrisisMedium,
		EngagementLevel:         0.82,
		BreakthroughProbability: 0.3,
	}
	require.NoError(t, store.SaveStatus(ctx, "sess-1", status))

	got, err := store.LoadStatus(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status, *got)
}

func TestSessionStoreStatusMissing(t *testing.T) {
	store, _ := newTestSessionStore(t)

	got, err := store.LoadStatus(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStoreStatusTTL(t *testing.T) {
	store, mr := newTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveStatus(ctx, "sess-1", SessionStatus{CrisisLevel: CrisisNone}))

	ttl := mr.TTL("therapy:session_status:sess-1")
	assert.Equal(t, sessionTTL, ttl)
}

func TestSessionStoreHistoryRoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	history := []Turn{
		{Sender: "user", Content: "hello"},
		{Sender: "assistant", Content: "hi, how are you feeling today?"},
	}
	require.NoError(t, store.SaveHistory(ctx, "sess-1", history))

	got, err := store.LoadHistory(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, history, got)
}

func TestSessionStoreHistoryMissing(t *testing.T) {
	store, _ := newTestSessionStore(t)

	got, err := store.LoadHistory(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionStoreKeysAreIsolatedPerSession(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveHistory(ctx, "a", []Turn{{Sender: "user", Content: "first"}}))
	require.NoError(t, store.SaveHistory(ctx, "b", []Turn{{Sender: "user", Content: "second"}}))

	a, err := store.LoadHistory(ctx, "a")
	require.NoError(t, err)
	b, err := store.LoadHistory(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, "first", a[0].Content)
	assert.Equal(t, "second", b[0].Content)
}

func TestNewSessionStoreRequiresRedis(t *testing.T) {
	assert.Panics(t, func() {
		NewSessionStore(nil, nil)
	})
}
