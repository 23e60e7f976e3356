package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p, err := New(Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, mr
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNilClient)
}

func TestRoundTripIsByteTransparent(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)

	in := []byte{0, 1, 2, 0xff, 'q'}
	ok, err := p.Set(ctx, "q:ns:k", in, 1, 0)
	require.NoError(t, err)
	require.True(t, ok)

	got, hit, err := p.Get(ctx, "q:ns:k")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, in, got)
}

func TestMissAndDelete(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)

	_, hit, err := p.Get(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = p.Set(ctx, "k", []byte("v"), 1, 0)
	require.NoError(t, err)
	require.NoError(t, p.Del(ctx, "k"))
	_, hit, err = p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestSetHonoursTTL(t *testing.T) {
	ctx := context.Background()
	p, mr := newProvider(t)

	_, err := p.Set(ctx, "k", []byte("v"), 1, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, hit, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetSurfacesTransportErrors(t *testing.T) {
	p, mr := newProvider(t)
	mr.Close()

	_, hit, err := p.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, hit)
}
