package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type game struct {
	ID      string   `json:"id"`
	Players []string `json:"players"`
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

// TestGetMissIsNotAnError verifies that an absent key is reported as a miss
// distinct from a failure.
func TestGetMissIsNotAnError(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	data, ok, err := c.Get(ctx, "profile:nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	g, ok, err := Load[game](ctx, c, "profile:nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, g)

	items, err := c.GetAll(ctx, "games")
	require.NoError(t, err)
	assert.Empty(t, items)
}

// TestSetAndLoad verifies JSON round trips through Set and Load.
func TestSetAndLoad(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	want := game{ID: "g1", Players: []string{"a", "b"}}
	require.NoError(t, c.Set(ctx, "game:g1", want))

	got, ok, err := Load[game](ctx, c, "game:g1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

// TestSetWithTTLExpiresAndOverwrites verifies that entries expire after their
// TTL and that a later write replaces the previous TTL.
func TestSetWithTTLExpiresAndOverwrites(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "invite", "alice", 10*time.Second))
	assert.Equal(t, 10*time.Second, mr.TTL("invite"))

	require.NoError(t, c.SetWithTTL(ctx, "invite", "alice", 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("invite"))

	mr.FastForward(31 * time.Second)
	_, ok, err := c.Get(ctx, "invite")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.SetWithTTL(ctx, "invite", "alice", 0))
}

// TestListPushAndRemove checks list membership semantics: a pushed value is
// listed exactly once, removal with count 1 drops it, count 0 drops every
// occurrence, and removing an absent value is a no-op.
func TestListPushAndRemove(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	a := game{ID: "a", Players: []string{"p1", "p2"}}
	b := game{ID: "b", Players: []string{"p3", "p4"}}

	require.NoError(t, c.Push(ctx, "games", a))
	games, err := LoadAll[game](ctx, c, "games")
	require.NoError(t, err)
	assert.Equal(t, []game{a}, games)

	require.NoError(t, c.RemoveFromList(ctx, "games", a, 1))
	games, err = LoadAll[game](ctx, c, "games")
	require.NoError(t, err)
	assert.NotContains(t, games, a)

	for _, g := range []game{a, b, a, a} {
		require.NoError(t, c.Push(ctx, "games", g))
	}
	require.NoError(t, c.RemoveFromList(ctx, "games", a, 0))
	games, err = LoadAll[game](ctx, c, "games")
	require.NoError(t, err)
	assert.Equal(t, []game{b}, games)

	require.NoError(t, c.RemoveFromList(ctx, "games", a, 1))
	require.NoError(t, c.RemoveFromList(ctx, "missing", a, 0))
}

// TestRemoveReportsExistence verifies that Remove returns true only when the
// key existed.
func TestRemoveReportsExistence(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	existed, err := c.Remove(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Remove(ctx, "k")
	require.NoError(t, err)
	assert.False(t, existed)
}

// TestUnavailableStore verifies that store failures surface as
// ErrCacheUnavailable rather than as misses.
func TestUnavailableStore(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.Push(ctx, "games", "x"), ErrCacheUnavailable)
	_, err = c.GetAll(ctx, "games")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	_, err = c.Remove(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}
