package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/internal/util"
)

// listener is an observer attached to an entry.
type listener interface {
	notify()
	Close()
}

// query is one cache entry. Everything below mu is guarded by it.
type query struct {
	key querykit.Key
	id  string

	mu        sync.Mutex
	state     querykit.QueryState
	initial   querykit.QueryState
	fn        querykit.QueryFunc
	opts      querykit.QueryOptions
	inf       *querykit.InfiniteOptions // set for paginated entries
	flight    *flight
	observers map[listener]bool // value: observer enabled
	lastUsed  time.Time
	gcTime    time.Duration
	staleTime time.Duration
}

func newQuery(key querykit.Key, id string, initial func() (any, bool), now time.Time) *query {
	q := &query{
		key:       append(querykit.Key(nil), key...),
		id:        id,
		observers: make(map[listener]bool),
		lastUsed:  now,
	}
	if initial != nil {
		if v, ok := initial(); ok {
			q.state = querykit.QueryState{Data: v, DataUpdatedAt: now, Status: querykit.StatusSuccess}
		}
	}
	q.initial = q.state
	return q
}

func (q *query) snapshot() querykit.QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// use records the resolver and options the entry refetches with. Caller
// holds q.mu.
func (q *query) use(fn querykit.QueryFunc, opts querykit.QueryOptions, inf *querykit.InfiniteOptions) {
	if fn != nil {
		q.fn = fn
		q.opts = opts
		q.inf = inf
	}
	if opts.StaleTime > 0 {
		q.staleTime = opts.StaleTime
	}
	if opts.GCTime > 0 {
		q.gcTime = opts.GCTime
	}
}

// write stores the updater's result as fresh data. Caller holds q.mu; the
// updater must not call back into the client.
func (q *query) write(updater querykit.Updater, now time.Time) any {
	v := updater(q.state.Data, q.state.HasData())
	q.state.Data = v
	q.state.DataUpdatedAt = now
	q.state.Status = querykit.StatusSuccess
	q.state.Error = nil
	q.state.IsInvalidated = false
	return v
}

// active reports an enabled observer. Caller holds q.mu.
func (q *query) active() bool {
	for _, enabled := range q.observers {
		if enabled {
			return true
		}
	}
	return false
}

func (q *query) isActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active()
}

func (q *query) hasFn() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fn != nil
}

func (q *query) listeners() []listener {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]listener, 0, len(q.observers))
	for l := range q.observers {
		out = append(out, l)
	}
	return out
}

func (q *query) detach(l listener, now time.Time) {
	q.mu.Lock()
	delete(q.observers, l)
	q.lastUsed = now
	q.mu.Unlock()
}

func isStale(st querykit.QueryState, staleTime time.Duration, now time.Time) bool {
	return st.IsInvalidated || !st.HasData() || now.Sub(st.DataUpdatedAt) >= staleTime
}

// flight is one running fetch of an entry. Every caller that asks for the
// entry while it runs waits on done.
type flight struct {
	done     chan struct{}
	cancel   context.CancelFunc
	prev     querykit.QueryState // restored by CancelQueries
	started  time.Time
	failures atomic.Int32

	// set before done is closed
	val any
	err error
}

func (f *flight) failed() { f.failures.Add(1) }

func (f *flight) wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type runFunc func(ctx context.Context, f *flight) (any, error)

// fetch joins the flight of q or starts one and waits for it. ctx only
// bounds the wait; the fetch itself runs on the client context.
func (c *Client) fetch(ctx context.Context, q *query, run runFunc, timeout time.Duration) (any, error) {
	return c.start(q, run, timeout).wait(ctx)
}

func (c *Client) start(q *query, run runFunc, timeout time.Duration) *flight {
	q.mu.Lock()
	if f := q.flight; f != nil {
		q.mu.Unlock()
		return f
	}
	var fctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		fctx, cancel = context.WithTimeout(c.base, timeout)
	} else {
		fctx, cancel = context.WithCancel(c.base)
	}
	f := &flight{done: make(chan struct{}), cancel: cancel, prev: q.state, started: c.now()}
	q.flight = f
	q.state.FetchStatus = querykit.FetchFetching
	q.mu.Unlock()

	c.hooks.FetchStarted(q.key)
	c.changed(q)
	go c.settle(fctx, q, f, run)
	return f
}

func (c *Client) settle(ctx context.Context, q *query, f *flight, run runFunc) {
	defer f.cancel()
	val, err := run(ctx, f)
	now := c.now()

	q.mu.Lock()
	// a cancelled or reset flight no longer owns the entry
	if q.flight == f {
		q.flight = nil
		q.state.FetchStatus = querykit.FetchIdle
		if err == nil {
			q.state.Data = val
			q.state.DataUpdatedAt = now
			q.state.Error = nil
			q.state.Status = querykit.StatusSuccess
			q.state.FailureCount = 0
			q.state.IsInvalidated = false
		} else {
			q.state.Error = err
			q.state.ErrorUpdatedAt = now
			q.state.Status = querykit.StatusError
			q.state.FailureCount = int(f.failures.Load())
		}
		q.lastUsed = now
	}
	q.mu.Unlock()

	f.val, f.err = val, err
	close(f.done)

	c.hooks.FetchSettled(q.key, now.Sub(f.started), err)
	if err != nil {
		c.log.Debug("query fetch failed", querykit.Fields{"key": q.key.String(), "err": err})
	}
	c.changed(q)
}

// attempt runs op with up to retries retries under exponential backoff.
// failed is called after every failed attempt.
func (c *Client) attempt(ctx context.Context, retries int, delay time.Duration, failed func(), op func() (any, error)) (any, error) {
	try := func() (any, error) {
		v, err := op()
		if err != nil {
			failed()
		}
		return v, err
	}
	if retries <= 0 {
		return try()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = maxRetryDelay
	return backoff.Retry(ctx, try,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug("retrying", querykit.Fields{"err": err, "in": next})
		}),
	)
}

// retries resolves the retry count of a fetch: explicit options win,
// otherwise observed fetches use the client default and imperative ones
// do not retry.
func (c *Client) retries(r *int, observed bool) int {
	switch {
	case r != nil:
		return *r
	case observed:
		return c.retry
	}
	return 0
}

func (c *Client) singleRun(q *query, fn querykit.QueryFunc, opts querykit.QueryOptions, retries int) runFunc {
	delay := util.Coalesce(opts.RetryDelay, c.retryDelay)
	return func(ctx context.Context, f *flight) (any, error) {
		qc := querykit.QueryFuncContext{Key: append(querykit.Key(nil), q.key...), Meta: opts.Meta}
		return c.attempt(ctx, retries, delay, f.failed, func() (any, error) {
			return fn(ctx, qc)
		})
	}
}

// refetch fetches q with the resolver it was last used with, ignoring
// staleness. A fetch already in flight is joined.
func (c *Client) refetch(ctx context.Context, q *query) (any, error) {
	q.mu.Lock()
	fn, opts, inf, active := q.fn, q.opts, q.inf, q.active()
	q.mu.Unlock()
	if fn == nil {
		return nil, ErrNoQueryFn
	}
	retries := c.retries(opts.Retry, active)
	if inf != nil {
		return c.fetch(ctx, q, c.pagesRun(q, fn, *inf, loadAll, retries), opts.Timeout)
	}
	return c.fetch(ctx, q, c.singleRun(q, fn, opts, retries), opts.Timeout)
}

// fresh returns the state of q and whether its data can be served as is.
func (c *Client) fresh(q *query) (querykit.QueryState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, !isStale(q.state, q.staleTime, c.now())
}

// FetchQuery returns fresh data for key or resolves it with fn. Concurrent
// fetches of one key share a single resolver call.
func (c *Client) FetchQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.QueryOptions) (any, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	q := c.acquire(key, opts.InitialData, func(q *query) { q.use(fn, opts, nil) })
	if st, ok := c.fresh(q); ok {
		return st.Data, nil
	}
	if fn == nil {
		return nil, ErrNoQueryFn
	}
	return c.fetch(ctx, q, c.singleRun(q, fn, opts, c.retries(opts.Retry, false)), opts.Timeout)
}

// PrefetchQuery is FetchQuery without the result. Resolver errors are kept
// on the entry.
func (c *Client) PrefetchQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.QueryOptions) error {
	_, err := c.FetchQuery(ctx, key, fn, opts)
	return c.prefetchErr(ctx, key, err)
}

func (c *Client) prefetchErr(ctx context.Context, key querykit.Key, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClosed), errors.Is(err, ErrNoQueryFn):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	c.log.Debug("prefetch failed", querykit.Fields{"key": key.String(), "err": err})
	return nil
}
