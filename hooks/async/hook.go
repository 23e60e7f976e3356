// Package asynchook runs querykit.Hooks on a bounded worker pool so that slow
// sinks never block fetch or mutation paths. Events are dropped when the queue
// is full.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker, queue 1000 events
//	defer hooks.Close()
//
//	client, _ := querycache.New(querycache.Options{Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/querykit"
)

type Hooks struct {
	inner   querykit.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ querykit.Hooks = (*Hooks)(nil)

func New(inner querykit.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k querykit.Key) { h.try(func() { h.inner.FetchStarted(k) }) }
func (h *Hooks) FetchSettled(k querykit.Key, d time.Duration, err error) {
	h.try(func() { h.inner.FetchSettled(k, d, err) })
}
func (h *Hooks) QueryRemoved(k querykit.Key, r string) { h.try(func() { h.inner.QueryRemoved(k, r) }) }
func (h *Hooks) MutationSettled(k querykit.Key, d time.Duration, err error) {
	h.try(func() { h.inner.MutationSettled(k, d, err) })
}
func (h *Hooks) PersistSelfHeal(k, r string) { h.try(func() { h.inner.PersistSelfHeal(k, r) }) }
func (h *Hooks) PersistSetRejected(k string) { h.try(func() { h.inner.PersistSetRejected(k) }) }
func (h *Hooks) GenError(op, k string, err error) {
	h.try(func() { h.inner.GenError(op, k, err) })
}
