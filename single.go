package querykit

import "context"

// SingleQuery is the toolkit variant for plain, one-value queries.
type SingleQuery[A, T any] struct {
	*toolkit[A, T]
}

func newSingle[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T]) (*SingleQuery[A, T], error) {
	t, err := newToolkit(qc, key, fn, opts, Single)
	if err != nil {
		return nil, err
	}
	q := &SingleQuery[A, T]{toolkit: t}

	t.table.set(CapFetchQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, QueryOptions](args)
		if err != nil {
			return nil, err
		}
		return q.FetchQuery(ctx, a, o)
	})
	t.table.set(CapPrefetchQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, QueryOptions](args)
		if err != nil {
			return nil, err
		}
		return nil, q.PrefetchQuery(ctx, a, o)
	})
	t.table.set(CapUseQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, QueryOptions](args)
		if err != nil {
			return nil, err
		}
		return q.UseQuery(ctx, a, o), nil
	})
	t.table.disable(CapFetchInfiniteQuery, CapPrefetchInfiniteQuery, CapUseInfiniteQuery)

	t.table.set(CapGetQueryData, func(_ context.Context, args ...any) (any, error) {
		suffix, _ := splitKey(args)
		v, _ := q.GetQueryData(suffix)
		return v, nil
	})
	t.table.set(CapGetQueryState, func(_ context.Context, args ...any) (any, error) {
		suffix, _ := splitKey(args)
		st, _ := q.GetQueryState(suffix)
		return st, nil
	})
	t.table.set(CapSetQueryData, func(_ context.Context, args ...any) (any, error) {
		suffix, rest := splitKey(args)
		fn, err := setterArg[T](rest, 0)
		if err != nil {
			return nil, err
		}
		return q.SetQueryData(suffix, fn), nil
	})
	return q, nil
}

func (q *SingleQuery[A, T]) options(calls []QueryOptions) QueryOptions {
	return mergeQueryOptions(q.opts.Defaults, calls)
}

// UseQuery subscribes to the entry for args. The observer fetches when the
// entry has no fresh data and stops with ctx or Close.
func (q *SingleQuery[A, T]) UseQuery(ctx context.Context, args A, opts ...QueryOptions) *Observer[T] {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	return newObserver[T](q.client.WatchQuery(ctx, key, q.resolver(key, args), o))
}

// FetchQuery returns fresh cached data for args or resolves it. Resolver
// errors are returned unchanged.
func (q *SingleQuery[A, T]) FetchQuery(ctx context.Context, args A, opts ...QueryOptions) (T, error) {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	v, err := q.client.FetchQuery(ctx, key, q.resolver(key, args), o)
	if err != nil {
		var zero T
		return zero, err
	}
	return fetched[T](v)
}

// PrefetchQuery warms the entry for args. Resolver failures are recorded
// on the entry, not returned.
func (q *SingleQuery[A, T]) PrefetchQuery(ctx context.Context, args A, opts ...QueryOptions) error {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	return q.client.PrefetchQuery(ctx, key, q.resolver(key, args), o)
}

// GetQueryData reads the entry at the identity key plus suffix.
func (q *SingleQuery[A, T]) GetQueryData(suffix Key) (T, bool) {
	v, ok := q.client.GetQueryData(q.compose(suffix))
	if !ok {
		var zero T
		return zero, false
	}
	return typed[T](v)
}

func (q *SingleQuery[A, T]) GetQueryState(suffix Key) (State[T], bool) {
	st, ok := q.client.GetQueryState(q.compose(suffix))
	if !ok {
		return State[T]{}, false
	}
	return stateOf(st, typed[T]), true
}

// SetQueryData writes the entry at the identity key plus suffix. updater
// receives the previous value, with ok=false when there was none.
func (q *SingleQuery[A, T]) SetQueryData(suffix Key, updater func(prev T, ok bool) T) T {
	key := q.compose(suffix)
	v := q.client.SetQueryData(key, updaterOf(updater, typed[T], anyOf[T]))
	t, _ := typed[T](v)
	q.persist(key, t)
	return t
}

func (q *SingleQuery[A, T]) GetQueriesData(filters QueryFilters) []Entry[T] {
	return entriesOf(q.client.GetQueriesData(q.scoped(filters)), typed[T])
}

func (q *SingleQuery[A, T]) SetQueriesData(filters QueryFilters, updater func(prev T, ok bool) T) []Entry[T] {
	out := entriesOf(q.client.SetQueriesData(q.scoped(filters), updaterOf(updater, typed[T], anyOf[T])), typed[T])
	for _, e := range out {
		q.persist(e.Key, e.Data)
	}
	return out
}

func anyOf[T any](v T) any { return v }

// callArgs decodes the (args, options) pair the fetch and observer
// capabilities take.
func callArgs[A, O any](args []any) (A, O, error) {
	var o O
	a, err := Arg[A](args, 0)
	if err != nil {
		return a, o, err
	}
	o, err = Arg[O](args, 1)
	return a, o, err
}
