package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreStrings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "k", "v"))

	val, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)

	removed, err := s.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreCounters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.IncrBy(ctx, "count", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.DecrBy(ctx, "count", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Set(ctx, "text", "abc"))
	_, err = s.IncrBy(ctx, "text", 1)
	require.Error(t, err)
}

func TestMemoryStoreLists(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.RPush(ctx, "list", "a", "b", "c")
	require.NoError(t, err)

	all, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	middle, err := s.LRange(ctx, "list", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, middle)

	empty, err := s.LRange(ctx, "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	removed, err := s.LRem(ctx, "list", 1, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, err = s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, all)
}

func TestMemoryStoreLRemDirection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.RPush(ctx, "list", "a", "b", "a", "b", "a")
	require.NoError(t, err)

	// Negative counts remove from the tail, as redis does.
	removed, err := s.LRem(ctx, "list", -1, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	all, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a", "b"}, all)

	// Zero removes every match.
	removed, err = s.LRem(ctx, "list", 0, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err = s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b"}, all)
}

func TestMemoryStoreHashes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSet(ctx, "h", "f1", "v1"))
	require.NoError(t, s.HSet(ctx, "h", "f2", "v2"))

	val, found, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", val)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	// HGetAll hands back a copy.
	all["f3"] = "v3"
	again, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestMemoryStorePatterns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "game::g1::code", "ABC"))
	require.NoError(t, s.Set(ctx, "game::g1::host_id", "p1"))
	require.NoError(t, s.Set(ctx, "game::g2::code", "DEF"))
	_, err := s.RPush(ctx, "game::g1::players", "p1")
	require.NoError(t, err)

	keys, err := s.ScanKeys(ctx, "game::g1::*")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	codes, err := s.ScanKeys(ctx, "game::*::code")
	require.NoError(t, err)
	assert.Len(t, codes, 2)

	removed, err := s.DelPattern(ctx, "game::g1::*")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	keys, err = s.ScanKeys(ctx, "game::g1::*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, found, err := s.Get(ctx, "game::g2::code")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, matchGlob("game_channel::*", "game_channel::g1"))
	assert.True(t, matchGlob("game::*::code", "game::g1::code"))
	assert.True(t, matchGlob("exact", "exact"))
	assert.False(t, matchGlob("exact", "exact::more"))
	assert.False(t, matchGlob("game::*::code", "team_draft::g1::code"))
	assert.False(t, matchGlob("game::*::code", "game::g1::host_id"))
}

func TestMemoryStorePubSub(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.PSubscribe(ctx, "game_channel::*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "game_channel::g1", "payload-1"))
	require.NoError(t, s.Publish(ctx, "other::g1", "payload-2"))
	require.NoError(t, s.Publish(ctx, "game_channel::g2", "payload-3"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "game_channel::g1", msg.Channel)
		assert.Equal(t, "payload-1", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first message")
	}

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "game_channel::g2", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second message")
	}
}

func TestMemoryStoreSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.PSubscribe(ctx, "game_channel::*")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)

	// Publishing after close must not panic.
	require.NoError(t, s.Publish(ctx, "game_channel::g1", "late"))
}
