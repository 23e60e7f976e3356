package querycache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/internal/util"
)

// mutation is one execution in the mutation cache.
type mutation struct {
	id     string
	prefix string // key ID
	gcTime time.Duration
	owner  *mutationObserver

	mu        sync.Mutex
	state     querykit.MutationState
	settledAt time.Time
}

func (m *mutation) snapshot() querykit.MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mutation) matches(f querykit.MutationFilters, prefix string) bool {
	if f.Exact {
		if m.prefix != prefix {
			return false
		}
	} else if !strings.HasPrefix(m.prefix, prefix) {
		return false
	}
	st := m.snapshot()
	if st.Status != querykit.MutationPending {
		return false
	}
	return f.Predicate == nil || f.Predicate(st)
}

// mutationObserver runs mutations for one subscriber and reports the latest.
type mutationObserver struct {
	c    *Client
	fn   querykit.MutationFunc
	opts querykit.MutationOptions

	mu      sync.Mutex
	current *mutation
	ch      chan querykit.MutationResult
	closed  bool
	stop    func() bool
}

var _ querykit.MutationObserver = (*mutationObserver)(nil)

// WatchMutation returns an observer that runs fn under opts.Key. It closes
// with ctx; mutations already started keep running.
func (c *Client) WatchMutation(ctx context.Context, fn querykit.MutationFunc, opts querykit.MutationOptions) querykit.MutationObserver {
	o := &mutationObserver{c: c, fn: fn, opts: opts, ch: make(chan querykit.MutationResult, 1)}
	if c.closed.Load() {
		o.closed = true
		close(o.ch)
		return o
	}
	c.mu.Lock()
	c.mobs[o] = struct{}{}
	c.mu.Unlock()
	stop := context.AfterFunc(ctx, o.Close)
	o.mu.Lock()
	o.stop = stop
	o.mu.Unlock()
	o.publish(nil)
	return o
}

// begin registers a pending mutation. It is counted by IsMutating before
// begin returns.
func (o *mutationObserver) begin(variables any) (*mutation, error) {
	if o.c.closed.Load() {
		return nil, ErrClosed
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.NewString()
	m := &mutation{
		id:     id,
		prefix: o.opts.Key.ID(),
		gcTime: util.Coalesce(o.opts.GCTime, o.c.gcTime),
		owner:  o,
		state: querykit.MutationState{
			ID:          id,
			Key:         append(querykit.Key(nil), o.opts.Key...),
			Status:      querykit.MutationPending,
			Variables:   variables,
			SubmittedAt: o.c.now(),
			Meta:        o.opts.Meta,
		},
	}
	o.c.mutations.Store(id, m)
	o.current = m
	o.mu.Unlock()

	o.publish(m)
	o.c.refreshCounters()
	return m, nil
}

// Mutate starts a mutation on the client context and returns at once.
func (o *mutationObserver) Mutate(variables any) {
	m, err := o.begin(variables)
	if err != nil {
		o.c.log.Debug("mutate on closed observer", querykit.Fields{"key": o.opts.Key.String()})
		return
	}
	go func() { _, _ = o.c.execute(o.c.base, m, o.fn, o.opts) }()
}

// MutateAsync runs a mutation on ctx and returns its result.
func (o *mutationObserver) MutateAsync(ctx context.Context, variables any) (any, error) {
	m, err := o.begin(variables)
	if err != nil {
		return nil, err
	}
	return o.c.execute(ctx, m, o.fn, o.opts)
}

func (o *mutationObserver) Result() querykit.MutationResult {
	o.mu.Lock()
	m := o.current
	o.mu.Unlock()
	if m == nil {
		return querykit.MutationResult{}
	}
	return querykit.MutationResult{MutationState: m.snapshot()}
}

func (o *mutationObserver) Updates() <-chan querykit.MutationResult { return o.ch }

// Reset forgets the latest mutation; Result reports idle again.
func (o *mutationObserver) Reset() {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
	o.publish(nil)
}

func (o *mutationObserver) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	stop := o.stop
	o.mu.Unlock()
	if stop != nil {
		stop()
	}
	o.c.mu.Lock()
	delete(o.c.mobs, o)
	o.c.mu.Unlock()
}

// publish sends the state of m if it is still the observer's latest
// mutation. nil publishes idle.
func (o *mutationObserver) publish(m *mutation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.current != m {
		return
	}
	var r querykit.MutationResult
	if m != nil {
		r.MutationState = m.snapshot()
	}
	publish(o.ch, r)
}

// execute runs m through OnMutate, fn (with retries) and the settle
// callbacks, then records the outcome.
func (c *Client) execute(ctx context.Context, m *mutation, fn querykit.MutationFunc, opts querykit.MutationOptions) (any, error) {
	start := c.now()
	st := m.snapshot()
	vars := st.Variables

	var (
		mctx any
		data any
		err  error
	)
	if opts.OnMutate != nil {
		mctx, err = opts.OnMutate(ctx, vars)
		m.mu.Lock()
		m.state.Context = mctx
		m.mu.Unlock()
		m.owner.publish(m)
	}
	if err == nil {
		if fn == nil {
			err = querykit.ErrNilFunc
		} else {
			failed := func() {
				m.mu.Lock()
				m.state.FailureCount++
				m.mu.Unlock()
			}
			data, err = c.attempt(ctx, c.retries(opts.Retry, false), util.Coalesce(opts.RetryDelay, c.retryDelay), failed, func() (any, error) {
				return fn(ctx, vars)
			})
		}
	}

	if err == nil {
		if opts.OnSuccess != nil {
			opts.OnSuccess(ctx, data, vars, mctx)
		}
	} else if opts.OnError != nil {
		opts.OnError(ctx, err, vars, mctx)
	}
	if opts.OnSettled != nil {
		opts.OnSettled(ctx, data, err, vars, mctx)
	}

	now := c.now()
	m.mu.Lock()
	if err == nil {
		m.state.Status = querykit.MutationSuccess
		m.state.Data = data
		m.state.Error = nil
	} else {
		m.state.Status = querykit.MutationError
		m.state.Error = err
	}
	m.settledAt = now
	m.mu.Unlock()

	c.hooks.MutationSettled(st.Key, now.Sub(start), err)
	if err != nil {
		c.log.Debug("mutation failed", querykit.Fields{"key": st.Key.String(), "id": m.id, "err": err})
	}
	m.owner.publish(m)
	c.refreshCounters()
	return data, err
}
