package querycache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querykit"
)

type removedHooks struct {
	querykit.NopHooks
	removed atomic.Int32
}

func (h *removedHooks) QueryRemoved(querykit.Key, string) { h.removed.Add(1) }

func TestSweepEvictsIdleEntries(t *testing.T) {
	hooks := &removedHooks{}
	c := newTestClient(t, Options{GCTime: time.Minute, Hooks: hooks})
	now := time.Now()
	c.now = func() time.Time { return now }

	c.SetQueryData(querykit.Key{"idle"}, func(any, bool) any { return 1 })
	var calls atomic.Int32
	obs := c.WatchQuery(context.Background(), querykit.Key{"watched"}, constant(2, &calls), querykit.QueryOptions{})
	defer obs.Close()
	next(t, obs.Updates(), func(r querykit.QueryResult) bool { return r.Status == querykit.StatusSuccess })

	q, _ := c.sweep()
	assert.Zero(t, q, "entries younger than GCTime stay")

	now = now.Add(2 * time.Minute)
	q, _ = c.sweep()
	assert.Equal(t, 1, q)
	assert.Equal(t, int32(1), hooks.removed.Load())

	_, ok := c.GetQueryState(querykit.Key{"idle"})
	assert.False(t, ok)
	_, ok = c.GetQueryState(querykit.Key{"watched"})
	assert.True(t, ok, "observed entries are never collected")
}

func TestSweepDropsSettledMutations(t *testing.T) {
	c := newTestClient(t, Options{GCTime: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }

	obs := c.WatchMutation(context.Background(), func(context.Context, any) (any, error) { return 1, nil }, querykit.MutationOptions{})
	defer obs.Close()
	_, err := obs.MutateAsync(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, c.mutations.Size())

	now = now.Add(2 * time.Minute)
	_, m := c.sweep()
	assert.Equal(t, 1, m)
	assert.Equal(t, 0, c.mutations.Size())
}
