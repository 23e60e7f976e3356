package querycache

import (
	"sync"

	"github.com/unkn0wn-root/querykit"
)

// counter is a reactive count. Value recounts on every call; Updates
// receives the latest count after changes.
type counter struct {
	c     *Client
	count func() int

	mu     sync.Mutex
	ch     chan int
	last   int
	closed bool
}

var _ querykit.Counter = (*counter)(nil)

func (c *Client) newCounter(count func() int) *counter {
	k := &counter{c: c, count: count, ch: make(chan int, 1)}
	if c.closed.Load() {
		k.closed = true
		close(k.ch)
		return k
	}
	k.last = count()
	k.ch <- k.last
	c.mu.Lock()
	c.counters[k] = struct{}{}
	c.mu.Unlock()
	// catch changes between the first count and registration
	k.refresh()
	return k
}

func (k *counter) Value() int { return k.count() }

func (k *counter) Updates() <-chan int { return k.ch }

// refresh recounts under k.mu so the last refresh to run publishes the
// newest count.
func (k *counter) refresh() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	if n := k.count(); n != k.last {
		k.last = n
		publish(k.ch, n)
	}
}

func (k *counter) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	close(k.ch)
	k.mu.Unlock()

	k.c.mu.Lock()
	delete(k.c.counters, k)
	k.c.mu.Unlock()
}

func (c *Client) refreshCounters() {
	c.mu.Lock()
	ks := make([]*counter, 0, len(c.counters))
	for k := range c.counters {
		ks = append(ks, k)
	}
	c.mu.Unlock()
	for _, k := range ks {
		k.refresh()
	}
}
