package querykit

import (
	"context"
	"fmt"
)

// Pages is the typed value of a paginated entry. PageParams[i] produced
// Pages[i].
type Pages[T any] struct {
	Pages      []T
	PageParams []any
}

func pagesOf[T any](v any) (Pages[T], bool) {
	d, ok := v.(InfiniteData)
	if !ok {
		return Pages[T]{}, false
	}
	out := Pages[T]{Pages: make([]T, len(d.Pages)), PageParams: append([]any(nil), d.PageParams...)}
	for i, p := range d.Pages {
		t, ok := p.(T)
		if !ok && p != nil {
			return Pages[T]{}, false
		}
		out.Pages[i] = t
	}
	return out, true
}

func infiniteOf[T any](p Pages[T]) any {
	d := InfiniteData{Pages: make([]any, len(p.Pages)), PageParams: append([]any(nil), p.PageParams...)}
	for i, v := range p.Pages {
		d.Pages[i] = v
	}
	return d
}

// InfiniteQuery is the toolkit variant for paginated queries.
type InfiniteQuery[A, T any] struct {
	*toolkit[A, T]
}

func newInfinite[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T]) (*InfiniteQuery[A, T], error) {
	t, err := newToolkit(qc, key, fn, opts, Paginated)
	if err != nil {
		return nil, err
	}
	q := &InfiniteQuery[A, T]{toolkit: t}

	t.table.set(CapFetchInfiniteQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, InfiniteOptions](args)
		if err != nil {
			return nil, err
		}
		return q.FetchInfiniteQuery(ctx, a, o)
	})
	t.table.set(CapPrefetchInfiniteQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, InfiniteOptions](args)
		if err != nil {
			return nil, err
		}
		return nil, q.PrefetchInfiniteQuery(ctx, a, o)
	})
	t.table.set(CapUseInfiniteQuery, func(ctx context.Context, args ...any) (any, error) {
		a, o, err := callArgs[A, InfiniteOptions](args)
		if err != nil {
			return nil, err
		}
		return q.UseInfiniteQuery(ctx, a, o), nil
	})
	t.table.disable(CapFetchQuery, CapPrefetchQuery, CapUseQuery)

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
		fn, err := setterArg[Pages[T]](rest, 0)
		if err != nil {
			return nil, err
		}
		return q.SetQueryData(suffix, fn), nil
	})
	return q, nil
}

func (q *InfiniteQuery[A, T]) options(calls []InfiniteOptions) InfiniteOptions {
	return mergeInfiniteOptions(q.opts.Defaults, q.opts.InfiniteDefaults, calls)
}

// UseInfiniteQuery subscribes to the paginated entry for args.
func (q *InfiniteQuery[A, T]) UseInfiniteQuery(ctx context.Context, args A, opts ...InfiniteOptions) *PagesObserver[T] {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	return newPagesObserver[T](q.client.WatchInfiniteQuery(ctx, key, q.resolver(key, args), o))
}

// FetchInfiniteQuery returns the cached pages for args, or loads them when
// missing or stale.
func (q *InfiniteQuery[A, T]) FetchInfiniteQuery(ctx context.Context, args A, opts ...InfiniteOptions) (Pages[T], error) {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	d, err := q.client.FetchInfiniteQuery(ctx, key, q.resolver(key, args), o)
	if err != nil {
		return Pages[T]{}, err
	}
	p, ok := pagesOf[T](d)
	if !ok {
		return Pages[T]{}, fmt.Errorf("%w: pages of %v", ErrTypeMismatch, key)
	}
	return p, nil
}

func (q *InfiniteQuery[A, T]) PrefetchInfiniteQuery(ctx context.Context, args A, opts ...InfiniteOptions) error {
	o := q.options(opts)
	key := q.KeyFor(o.Key, args)
	o.Key = nil
	return q.client.PrefetchInfiniteQuery(ctx, key, q.resolver(key, args), o)
}

func (q *InfiniteQuery[A, T]) GetQueryData(suffix Key) (Pages[T], bool) {
	v, ok := q.client.GetQueryData(q.compose(suffix))
	if !ok {
		return Pages[T]{}, false
	}
	return pagesOf[T](v)
}

func (q *InfiniteQuery[A, T]) GetQueryState(suffix Key) (State[Pages[T]], bool) {
	st, ok := q.client.GetQueryState(q.compose(suffix))
	if !ok {
		return State[Pages[T]]{}, false
	}
	return stateOf(st, pagesOf[T]), true
}

// SetQueryData replaces the pages at the identity key plus suffix.
func (q *InfiniteQuery[A, T]) SetQueryData(suffix Key, updater func(prev Pages[T], ok bool) Pages[T]) Pages[T] {
	key := q.compose(suffix)
	v := q.client.SetQueryData(key, updaterOf(updater, pagesOf[T], infiniteOf[T]))
	p, _ := pagesOf[T](v)
	q.persistPages(key, p)
	return p
}

func (q *InfiniteQuery[A, T]) GetQueriesData(filters QueryFilters) []Entry[Pages[T]] {
	return entriesOf(q.client.GetQueriesData(q.scoped(filters)), pagesOf[T])
}

func (q *InfiniteQuery[A, T]) SetQueriesData(filters QueryFilters, updater func(prev Pages[T], ok bool) Pages[T]) []Entry[Pages[T]] {
	out := entriesOf(q.client.SetQueriesData(q.scoped(filters), updaterOf(updater, pagesOf[T], infiniteOf[T])), pagesOf[T])
	for _, e := range out {
		q.persistPages(e.Key, e.Data)
	}
	return out
}

func (q *InfiniteQuery[A, T]) persistPages(key Key, p Pages[T]) {
	if q.opts.Persister == nil {
		return
	}
	for i, v := range p.Pages {
		if i < len(p.PageParams) {
			q.persist(pageKey(key, p.PageParams[i]), v)
		}
	}
}
