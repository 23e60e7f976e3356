package genstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMissingKeyIsZero(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	g, err := s.Snapshot(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, g)
}

func TestLocalBumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	for want := uint64(1); want <= 3; want++ {
		g, err := s.Bump(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, want, g)
	}
	g, err := s.Snapshot(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), g)
}

func TestLocalConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "hot")
		}()
	}
	wg.Wait()

	g, err := s.Snapshot(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), g)
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, err := s.Bump(ctx, "old")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = s.Bump(ctx, "fresh")
	require.NoError(t, err)

	assert.Equal(t, 1, s.Cleanup(20*time.Millisecond))
	assert.Equal(t, 1, s.Len())

	g, err := s.Snapshot(ctx, "old")
	require.NoError(t, err)
	assert.Zero(t, g, "pruned key reads as 0")
}

func TestLocalCleanupLoop(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(5*time.Millisecond, 10*time.Millisecond)
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocal(time.Millisecond, time.Second)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
}
