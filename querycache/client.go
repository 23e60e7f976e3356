// Package querycache is an in-process implementation of querykit.Client:
// a keyed cache of query state with de-duplicated fetches, staleness,
// retries, observers, a mutation cache and a GC sweep.
//
//	client, _ := querycache.New(querycache.Options{StaleTime: time.Minute})
//	defer client.Close(ctx)
//
//	qc, _ := querykit.NewQueryCreator(client, querykit.CreatorOptions{})
package querycache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/internal/util"
)

// Client owns every cached query, fetch and mutation. It is safe for
// concurrent use.
type Client struct {
	queries   *xsync.MapOf[string, *query]
	mutations *xsync.MapOf[string, *mutation]

	mu       sync.Mutex
	counters map[*counter]struct{}
	mobs     map[*mutationObserver]struct{}

	// base outlives individual callers; shared fetches run on it.
	base   context.Context
	cancel context.CancelFunc

	log        querykit.Logger
	hooks      querykit.Hooks
	staleTime  time.Duration
	gcTime     time.Duration
	retry      int
	retryDelay time.Duration
	now        func() time.Time

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ querykit.Client = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Client{
		queries:   xsync.NewMapOf[string, *query](),
		mutations: xsync.NewMapOf[string, *mutation](),
		counters:  make(map[*counter]struct{}),
		mobs:      make(map[*mutationObserver]struct{}),
		base:      base,
		cancel:    cancel,
		staleTime: opts.StaleTime,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}

	// defaults
	c.log = util.Coalesce[querykit.Logger](opts.Logger, querykit.NopLogger{})
	c.hooks = util.Coalesce[querykit.Hooks](opts.Hooks, querykit.NopHooks{})
	c.gcTime = util.Coalesce(opts.GCTime, defaultGCTime)
	c.retry = util.Coalesce(opts.Retry, defaultObserverRetry)
	c.retryDelay = util.Coalesce(opts.RetryBaseDelay, defaultRetryBaseDelay)

	c.ticker = time.NewTicker(util.Coalesce(opts.CleanupInterval, defaultCleanupInterval))
	c.wg.Add(1)
	go c.cleanupLoop()
	return c, nil
}

// Close stops the GC sweep, cancels in-flight fetches and running
// mutations, and closes every observer and counter. It does not block on
// running resolvers, so it always returns nil.
func (c *Client) Close(_ context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		c.ticker.Stop()
		c.wg.Wait()
		c.cancel()

		var ls []listener
		c.queries.Range(func(_ string, q *query) bool {
			ls = append(ls, q.listeners()...)
			return true
		})
		for _, l := range ls {
			l.Close()
		}

		c.mu.Lock()
		mobs := make([]*mutationObserver, 0, len(c.mobs))
		for o := range c.mobs {
			mobs = append(mobs, o)
		}
		ks := make([]*counter, 0, len(c.counters))
		for k := range c.counters {
			ks = append(ks, k)
		}
		c.mu.Unlock()
		for _, o := range mobs {
			o.Close()
		}
		for _, k := range ks {
			k.Close()
		}
	})
	return nil
}

// acquire returns the entry for key, creating it when missing. with runs
// under the entry lock while the map slot is held, so a concurrent sweep
// cannot evict the entry in between.
func (c *Client) acquire(key querykit.Key, initial func() (any, bool), with func(q *query)) *query {
	id := key.ID()
	now := c.now()
	q, _ := c.queries.Compute(id, func(old *query, loaded bool) (*query, bool) {
		if !loaded {
			old = newQuery(key, id, initial, now)
			old.gcTime = c.gcTime
			old.staleTime = c.staleTime
		}
		old.mu.Lock()
		old.lastUsed = now
		if with != nil {
			with(old)
		}
		old.mu.Unlock()
		return old, false
	})
	return q
}

func (c *Client) lookup(key querykit.Key) (*query, bool) {
	return c.queries.Load(key.ID())
}

// evict deletes q if it is still the entry for its key and cond holds.
func (c *Client) evict(q *query, cond func(q *query) bool) bool {
	removed := false
	c.queries.Compute(q.id, func(old *query, loaded bool) (*query, bool) {
		if !loaded {
			return old, true
		}
		if old != q || (cond != nil && !cond(old)) {
			return old, false
		}
		removed = true
		return old, true
	})
	return removed
}

// matcher evaluates QueryFilters. Key prefixes compare by encoded ID.
type matcher struct {
	f      querykit.QueryFilters
	prefix string
	now    time.Time
}

func (c *Client) matcher(f querykit.QueryFilters) matcher {
	return matcher{f: f, prefix: f.Key.ID(), now: c.now()}
}

func (m matcher) match(q *query) bool {
	if m.f.Exact {
		if q.id != m.prefix {
			return false
		}
	} else if !strings.HasPrefix(q.id, m.prefix) {
		return false
	}

	q.mu.Lock()
	st := q.state
	active := q.active()
	fetching := q.flight != nil
	stale := isStale(st, q.staleTime, m.now)
	q.mu.Unlock()

	switch m.f.Type {
	case querykit.QueryTypeActive:
		if !active {
			return false
		}
	case querykit.QueryTypeInactive:
		if active {
			return false
		}
	}
	if m.f.Fetching && !fetching {
		return false
	}
	if m.f.Stale != nil && stale != *m.f.Stale {
		return false
	}
	if m.f.Predicate != nil && !m.f.Predicate(q.key, st) {
		return false
	}
	return true
}

// match returns matching entries ordered by key ID.
func (c *Client) match(f querykit.QueryFilters) []*query {
	m := c.matcher(f)
	var out []*query
	c.queries.Range(func(_ string, q *query) bool {
		if m.match(q) {
			out = append(out, q)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (c *Client) count(f querykit.QueryFilters) int {
	m := c.matcher(f)
	n := 0
	c.queries.Range(func(_ string, q *query) bool {
		if m.match(q) {
			n++
		}
		return true
	})
	return n
}

// GetQueryData returns the data of the entry at key, if it has any.
func (c *Client) GetQueryData(key querykit.Key) (any, bool) {
	q, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	st := q.snapshot()
	if !st.HasData() {
		return nil, false
	}
	return st.Data, true
}

func (c *Client) GetQueryState(key querykit.Key) (querykit.QueryState, bool) {
	q, ok := c.lookup(key)
	if !ok {
		return querykit.QueryState{}, false
	}
	return q.snapshot(), true
}

// SetQueryData writes the entry at key, creating it when missing, and
// returns the stored value. The write counts as a successful fetch.
func (c *Client) SetQueryData(key querykit.Key, updater querykit.Updater) any {
	var out any
	q := c.acquire(key, nil, func(q *query) {
		out = q.write(updater, c.now())
	})
	c.changed(q)
	return out
}

func (c *Client) GetQueriesData(filters querykit.QueryFilters) []querykit.KeyedData {
	qs := c.match(filters)
	out := make([]querykit.KeyedData, 0, len(qs))
	for _, q := range qs {
		out = append(out, querykit.KeyedData{Key: q.key, Data: q.snapshot().Data})
	}
	return out
}

// SetQueriesData applies updater to every matching entry.
func (c *Client) SetQueriesData(filters querykit.QueryFilters, updater querykit.Updater) []querykit.KeyedData {
	qs := c.match(filters)
	out := make([]querykit.KeyedData, 0, len(qs))
	now := c.now()
	for _, q := range qs {
		q.mu.Lock()
		v := q.write(updater, now)
		q.mu.Unlock()
		c.changed(q)
		out = append(out, querykit.KeyedData{Key: q.key, Data: v})
	}
	return out
}

// InvalidateQueries marks matching entries stale and refetches the active
// ones. The first refetch error is returned.
func (c *Client) InvalidateQueries(ctx context.Context, filters querykit.QueryFilters) error {
	if c.closed.Load() {
		return ErrClosed
	}
	qs := c.match(filters)
	for _, q := range qs {
		q.mu.Lock()
		q.state.IsInvalidated = true
		q.mu.Unlock()
		c.changed(q)
	}
	return c.refetchAll(ctx, qs, func(q *query) bool { return q.isActive() })
}

// RefetchQueries refetches every matching entry that has a resolver.
func (c *Client) RefetchQueries(ctx context.Context, filters querykit.QueryFilters) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.refetchAll(ctx, c.match(filters), func(q *query) bool { return q.hasFn() })
}

// CancelQueries stops in-flight fetches of matching entries and restores
// the state each entry had before its fetch started. Waiters receive
// context.Canceled.
func (c *Client) CancelQueries(filters querykit.QueryFilters) {
	filters.Fetching = true
	for _, q := range c.match(filters) {
		q.mu.Lock()
		f := q.flight
		if f != nil {
			q.state = f.prev
			q.flight = nil
		}
		q.mu.Unlock()
		if f != nil {
			f.cancel()
			c.changed(q)
		}
	}
}

// RemoveQueries drops matching entries. Observers of a removed entry keep
// their last result until they refetch, which re-adds it.
func (c *Client) RemoveQueries(filters querykit.QueryFilters) {
	for _, q := range c.match(filters) {
		if c.evict(q, nil) {
			c.hooks.QueryRemoved(q.key, "removed")
			c.changed(q)
		}
	}
}

// ResetQueries returns matching entries to their initial state, cancelling
// fetches in flight, and refetches the active ones.
func (c *Client) ResetQueries(ctx context.Context, filters querykit.QueryFilters) error {
	if c.closed.Load() {
		return ErrClosed
	}
	qs := c.match(filters)
	for _, q := range qs {
		q.mu.Lock()
		f := q.flight
		q.flight = nil
		q.state = q.initial
		q.mu.Unlock()
		if f != nil {
			f.cancel()
		}
		c.changed(q)
	}
	return c.refetchAll(ctx, qs, func(q *query) bool { return q.isActive() })
}

func (c *Client) refetchAll(ctx context.Context, qs []*query, pick func(q *query) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range qs {
		if !pick(q) {
			continue
		}
		g.Go(func() error {
			_, err := c.refetch(gctx, q)
			return err
		})
	}
	return g.Wait()
}

// IsFetching counts matching entries with a fetch in flight.
func (c *Client) IsFetching(filters querykit.QueryFilters) int {
	filters.Fetching = true
	return c.count(filters)
}

// IsMutating counts pending mutations matching filters.
func (c *Client) IsMutating(filters querykit.MutationFilters) int {
	prefix := filters.Key.ID()
	n := 0
	c.mutations.Range(func(_ string, m *mutation) bool {
		if m.matches(filters, prefix) {
			n++
		}
		return true
	})
	return n
}

func (c *Client) WatchIsFetching(filters querykit.QueryFilters) querykit.Counter {
	return c.newCounter(func() int { return c.IsFetching(filters) })
}

func (c *Client) WatchIsMutating(filters querykit.MutationFilters) querykit.Counter {
	return c.newCounter(func() int { return c.IsMutating(filters) })
}

// changed publishes q's new state to its observers and refreshes counters.
func (c *Client) changed(q *query) {
	for _, l := range q.listeners() {
		l.notify()
	}
	c.refreshCounters()
}
