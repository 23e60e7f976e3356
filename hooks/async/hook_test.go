package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/querykit"
)

type recorder struct {
	querykit.NopHooks
	mu      sync.Mutex
	settled []querykit.Key
	block   chan struct{}
}

func (r *recorder) FetchSettled(k querykit.Key, _ time.Duration, _ error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.settled = append(r.settled, k)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settled)
}

func TestDeliversAndDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 2, 16)

	for i := 0; i < 10; i++ {
		h.FetchSettled(querykit.Key{"user", i}, time.Millisecond, nil)
	}
	h.Close()

	assert.Equal(t, 10, rec.count())
	assert.Zero(t, h.Dropped())
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	// one event held by the worker, one queued, the rest dropped
	for i := 0; i < 5; i++ {
		h.FetchSettled(querykit.Key{i}, 0, nil)
	}
	require.Eventually(t, func() bool { return h.Dropped() >= 3 }, time.Second, time.Millisecond)

	close(rec.block)
	h.Close()
	h.FetchStarted(querykit.Key{"late"})
	assert.GreaterOrEqual(t, h.Dropped(), uint64(4))
}
