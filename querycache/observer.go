package querycache

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/querykit"
)

// observer binds one subscriber to an entry. R is the published result.
type observer[R any] struct {
	c       *Client
	enabled bool
	result  func(q *query) R
	// use records the observer's resolver on an entry. Caller holds q.mu.
	use func(q *query)

	mu     sync.Mutex
	q      *query
	ch     chan R
	closed bool
	stop   func() bool
}

func newObserver[R any](c *Client, enabled bool, result func(q *query) R, use func(q *query)) *observer[R] {
	return &observer[R]{c: c, enabled: enabled, result: result, use: use, ch: make(chan R, 1)}
}

// watch attaches o to the entry for key and ties its lifetime to ctx.
func (o *observer[R]) watch(ctx context.Context, key querykit.Key, initial func() (any, bool)) {
	if o.c.closed.Load() {
		o.closed = true
		close(o.ch)
		return
	}
	o.c.acquire(key, initial, func(q *query) {
		o.use(q)
		q.observers[o] = o.enabled
		// o is unreachable until q.mu is released
		o.q = q
	})
	stop := context.AfterFunc(ctx, o.Close)
	o.mu.Lock()
	o.stop = stop
	o.mu.Unlock()
	o.notify()
	o.c.refreshCounters()
}

// entry returns the observed entry. An entry removed from the cache is put
// back, or o moves to the entry that replaced it.
func (o *observer[R]) entry() *query {
	o.mu.Lock()
	q := o.q
	o.mu.Unlock()

	cur, _ := o.c.queries.LoadOrStore(q.id, q)
	if cur == q {
		return q
	}
	q.detach(o, o.c.now())
	cur.mu.Lock()
	o.use(cur)
	cur.observers[o] = o.enabled
	cur.mu.Unlock()
	o.mu.Lock()
	o.q = cur
	o.mu.Unlock()
	return cur
}

func (o *observer[R]) notify() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.q == nil {
		return
	}
	publish(o.ch, o.result(o.q))
}

func (o *observer[R]) Result() R {
	o.mu.Lock()
	q := o.q
	o.mu.Unlock()
	if q == nil {
		var zero R
		return zero
	}
	return o.result(q)
}

func (o *observer[R]) Updates() <-chan R { return o.ch }

// Close detaches the observer; the entry becomes inactive once its last
// observer is gone.
func (o *observer[R]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	q, stop := o.q, o.stop
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	if q != nil {
		q.detach(o, o.c.now())
	}
	o.c.refreshCounters()
}

func (c *Client) result(q *query) querykit.QueryResult {
	q.mu.Lock()
	st := q.state
	stale := isStale(st, q.staleTime, c.now())
	q.mu.Unlock()
	return querykit.QueryResult{QueryState: st, Key: q.key, IsStale: stale}
}

type queryObserver struct {
	*observer[querykit.QueryResult]
	fn   querykit.QueryFunc
	opts querykit.QueryOptions
}

// WatchQuery subscribes to key. Unless opts disables it, the observer starts a
// fetch when the entry has no fresh data. It closes with ctx.
func (c *Client) WatchQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.QueryOptions) querykit.QueryObserver {
	o := &queryObserver{fn: fn, opts: opts}
	o.observer = newObserver(c, opts.IsEnabled(), c.result, func(q *query) { q.use(fn, opts, nil) })
	o.watch(ctx, key, opts.InitialData)
	if o.q != nil && o.enabled && fn != nil {
		if _, fresh := c.fresh(o.q); !fresh {
			c.start(o.q, o.run(o.q), opts.Timeout)
		}
	}
	return o
}

func (o *queryObserver) run(q *query) runFunc {
	return o.c.singleRun(q, o.fn, o.opts, o.c.retries(o.opts.Retry, true))
}

// Refetch fetches regardless of staleness, joining a fetch in flight.
func (o *queryObserver) Refetch(ctx context.Context) (querykit.QueryResult, error) {
	if o.c.closed.Load() {
		return o.Result(), ErrClosed
	}
	if o.fn == nil {
		return o.Result(), ErrNoQueryFn
	}
	q := o.entry()
	_, err := o.c.fetch(ctx, q, o.run(q), o.opts.Timeout)
	return o.Result(), err
}

type infiniteObserver struct {
	*observer[querykit.InfiniteResult]
	fn   querykit.QueryFunc
	opts querykit.InfiniteOptions
}

// WatchInfiniteQuery subscribes to the paginated entry at key.
func (c *Client) WatchInfiniteQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.InfiniteOptions) querykit.InfiniteObserver {
	o := &infiniteObserver{fn: fn, opts: opts}
	result := func(q *query) querykit.InfiniteResult {
		r := c.result(q)
		d, _ := r.Data.(querykit.InfiniteData)
		_, next := nextParam(opts, d)
		_, prev := previousParam(opts, d)
		return querykit.InfiniteResult{QueryResult: r, Pages: d, HasNextPage: next, HasPreviousPage: prev}
	}
	o.observer = newObserver(c, opts.IsEnabled(), result, func(q *query) { q.use(fn, opts.QueryOptions, &opts) })
	o.watch(ctx, key, opts.InitialData)
	if o.q != nil && o.enabled && fn != nil {
		if _, fresh := c.fresh(o.q); !fresh {
			c.start(o.q, o.run(o.q, loadAll), opts.Timeout)
		}
	}
	return o
}

func (o *infiniteObserver) run(q *query, load pageLoad) runFunc {
	return o.c.pagesRun(q, o.fn, o.opts, load, o.c.retries(o.opts.Retry, true))
}

func (o *infiniteObserver) load(ctx context.Context, load pageLoad) (querykit.InfiniteResult, error) {
	if o.c.closed.Load() {
		return o.Result(), ErrClosed
	}
	if o.fn == nil {
		return o.Result(), ErrNoQueryFn
	}
	q := o.entry()
	_, err := o.c.fetch(ctx, q, o.run(q, load), o.opts.Timeout)
	return o.Result(), err
}

// FetchNextPage appends the page after the last one. It is a no-op when
// GetNextPageParam reports no further page.
func (o *infiniteObserver) FetchNextPage(ctx context.Context) (querykit.InfiniteResult, error) {
	return o.load(ctx, loadNext)
}

func (o *infiniteObserver) FetchPreviousPage(ctx context.Context) (querykit.InfiniteResult, error) {
	return o.load(ctx, loadPrevious)
}

// Refetch reloads every loaded page.
func (o *infiniteObserver) Refetch(ctx context.Context) (querykit.InfiniteResult, error) {
	return o.load(ctx, loadAll)
}

// publish replaces any unread value in ch with v. Callers serialise sends.
func publish[S any](ch chan S, v S) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
