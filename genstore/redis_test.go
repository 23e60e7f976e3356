package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedis(RedisConfig{Client: rdb, Namespace: "users", TTL: ttl, CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, mr
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.ErrorIs(t, err, ErrNilRedis)
}

func TestRedisSnapshotAndBump(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedis(t, 0)

	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, g)

	g, err = s.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g)

	got, err := mr.Get("gen:users:k")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	g, err = s.Snapshot(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g)
}

func TestRedisBumpAppliesTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedis(t, time.Minute)

	_, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("gen:users:k"))

	mr.FastForward(2 * time.Minute)
	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, g, "expired generation reads as 0")
}

func TestRedisSnapshotRejectsGarbage(t *testing.T) {
	s, mr := newRedis(t, 0)
	require.NoError(t, mr.Set("gen:users:k", "not-a-number"))

	_, err := s.Snapshot(context.Background(), "k")
	require.Error(t, err)
}
