package querycache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/internal/util"
)

type pageLoad uint8

const (
	loadAll pageLoad = iota
	loadNext
	loadPrevious
)

// pagesRun loads pages of a paginated entry. loadAll refetches every
// loaded page (or opts.Pages pages on first load), re-deriving params from
// the fresh pages; loadNext and loadPrevious add one page at an end.
func (c *Client) pagesRun(q *query, fn querykit.QueryFunc, opts querykit.InfiniteOptions, load pageLoad, retries int) runFunc {
	delay := util.Coalesce(opts.RetryDelay, c.retryDelay)
	return func(ctx context.Context, f *flight) (any, error) {
		page := func(param any, dir querykit.PageDirection) (any, error) {
			qc := querykit.QueryFuncContext{
				Key:       append(querykit.Key(nil), q.key...),
				PageParam: param,
				Direction: dir,
				Meta:      opts.Meta,
			}
			return c.attempt(ctx, retries, delay, f.failed, func() (any, error) {
				return fn(ctx, qc)
			})
		}

		cur, _ := f.prev.Data.(querykit.InfiniteData)
		mode := load
		if len(cur.Pages) == 0 {
			mode = loadAll
		}

		switch mode {
		case loadNext:
			param, ok := nextParam(opts, cur)
			if !ok {
				return cur, nil
			}
			p, err := page(param, querykit.Forward)
			if err != nil {
				return nil, err
			}
			out := querykit.InfiniteData{
				Pages:      append(append([]any(nil), cur.Pages...), p),
				PageParams: append(append([]any(nil), cur.PageParams...), param),
			}
			if over := len(out.Pages) - opts.MaxPages; opts.MaxPages > 0 && over > 0 {
				out.Pages, out.PageParams = out.Pages[over:], out.PageParams[over:]
			}
			return out, nil

		case loadPrevious:
			param, ok := previousParam(opts, cur)
			if !ok {
				return cur, nil
			}
			p, err := page(param, querykit.Backward)
			if err != nil {
				return nil, err
			}
			out := querykit.InfiniteData{
				Pages:      append([]any{p}, cur.Pages...),
				PageParams: append([]any{param}, cur.PageParams...),
			}
			if opts.MaxPages > 0 && len(out.Pages) > opts.MaxPages {
				out.Pages, out.PageParams = out.Pages[:opts.MaxPages], out.PageParams[:opts.MaxPages]
			}
			return out, nil
		}

		n := len(cur.Pages)
		if n == 0 {
			n = max(1, opts.Pages)
		}
		if opts.MaxPages > 0 {
			n = min(n, opts.MaxPages)
		}
		param := opts.InitialPageParam
		if len(cur.PageParams) > 0 {
			param = cur.PageParams[0]
		}
		var out querykit.InfiniteData
		for i := 0; i < n; i++ {
			p, err := page(param, querykit.Forward)
			if err != nil {
				return nil, err
			}
			out.Pages = append(out.Pages, p)
			out.PageParams = append(out.PageParams, param)
			if i+1 < n {
				var ok bool
				if param, ok = nextParam(opts, out); !ok {
					break
				}
			}
		}
		return out, nil
	}
}

func nextParam(opts querykit.InfiniteOptions, d querykit.InfiniteData) (any, bool) {
	n := len(d.Pages)
	if opts.GetNextPageParam == nil || n == 0 || len(d.PageParams) != n {
		return nil, false
	}
	return opts.GetNextPageParam(d.Pages[n-1], d.Pages, d.PageParams[n-1])
}

func previousParam(opts querykit.InfiniteOptions, d querykit.InfiniteData) (any, bool) {
	if opts.GetPreviousPageParam == nil || len(d.Pages) == 0 || len(d.PageParams) != len(d.Pages) {
		return nil, false
	}
	return opts.GetPreviousPageParam(d.Pages[0], d.Pages, d.PageParams[0])
}

func pagesOf(key querykit.Key, v any) (querykit.InfiniteData, error) {
	if v == nil {
		return querykit.InfiniteData{}, nil
	}
	d, ok := v.(querykit.InfiniteData)
	if !ok {
		return querykit.InfiniteData{}, fmt.Errorf("%w: %v holds %T, not pages", querykit.ErrTypeMismatch, key, v)
	}
	return d, nil
}

// FetchInfiniteQuery returns the fresh pages of key, or loads them.
func (c *Client) FetchInfiniteQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.InfiniteOptions) (querykit.InfiniteData, error) {
	if c.closed.Load() {
		return querykit.InfiniteData{}, ErrClosed
	}
	q := c.acquire(key, opts.InitialData, func(q *query) { q.use(fn, opts.QueryOptions, &opts) })
	if st, ok := c.fresh(q); ok {
		return pagesOf(key, st.Data)
	}
	if fn == nil {
		return querykit.InfiniteData{}, ErrNoQueryFn
	}
	v, err := c.fetch(ctx, q, c.pagesRun(q, fn, opts, loadAll, c.retries(opts.Retry, false)), opts.Timeout)
	if err != nil {
		return querykit.InfiniteData{}, err
	}
	return pagesOf(key, v)
}

func (c *Client) PrefetchInfiniteQuery(ctx context.Context, key querykit.Key, fn querykit.QueryFunc, opts querykit.InfiniteOptions) error {
	_, err := c.FetchInfiniteQuery(ctx, key, fn, opts)
	return c.prefetchErr(ctx, key, err)
}
