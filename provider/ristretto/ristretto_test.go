package ristretto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRoundTripCopiesValue(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20, BufferItems: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	in := []byte("frame")
	ok, err := p.Set(ctx, "k", in, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	p.Wait()

	in[0] = 'X'
	got, hit, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []byte("frame"), got)

	require.NoError(t, p.Del(ctx, "k"))
	_, hit, _ = p.Get(ctx, "k")
	assert.False(t, hit)
}
