package sturdyc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := Config{Capacity: 10, NumShards: 2, TTL: time.Minute, EvictionPercentage: 10}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"Capacity":           func(c *Config) { c.Capacity = 0 },
		"NumShards":          func(c *Config) { c.NumShards = 0 },
		"TTL":                func(c *Config) { c.TTL = 0 },
		"EvictionPercentage": func(c *Config) { c.EvictionPercentage = 101 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			var ce *ConfigError
			require.ErrorAs(t, cfg.Validate(), &ce)
			assert.Equal(t, field, ce.Field)
		})
	}
}

func TestRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{Capacity: 100, NumShards: 4, TTL: time.Minute, EvictionPercentage: 10})
	require.NoError(t, err)

	ok, err := p.Set(ctx, "k", []byte("frame"), 1, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, p.Size())

	got, hit, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []byte("frame"), got)

	require.NoError(t, p.Del(ctx, "k"))
	_, hit, _ = p.Get(ctx, "k")
	assert.False(t, hit)
}
