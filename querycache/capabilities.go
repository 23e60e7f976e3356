package querycache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/querykit"
)

// Capabilities publishes the client's operations by name. Each takes the
// target key first; filter-based operations use it as filters.Key.
//
//	fetchQuery(key, QueryFunc, QueryOptions)
//	fetchInfiniteQuery(key, QueryFunc, InfiniteOptions)
//	getQueryData(key) / getQueryState(key)
//	setQueryData(key, Updater | value)
//	getQueriesData(key, QueryFilters)
//	setQueriesData(key, Updater | value, QueryFilters)
//	invalidateQueries / refetchQueries / cancelQueries /
//	removeQueries / resetQueries / isFetching (key, QueryFilters)
//	isMutating(key, MutationFilters)
func (c *Client) Capabilities() map[string]querykit.Capability {
	return map[string]querykit.Capability{
		querykit.CapFetchQuery: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			fn, opts, err := fetchArgs[querykit.QueryOptions](args)
			if err != nil {
				return nil, err
			}
			return c.FetchQuery(ctx, key, fn, opts)
		},
		querykit.CapPrefetchQuery: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			fn, opts, err := fetchArgs[querykit.QueryOptions](args)
			if err != nil {
				return nil, err
			}
			return nil, c.PrefetchQuery(ctx, key, fn, opts)
		},
		querykit.CapFetchInfiniteQuery: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			fn, opts, err := fetchArgs[querykit.InfiniteOptions](args)
			if err != nil {
				return nil, err
			}
			return c.FetchInfiniteQuery(ctx, key, fn, opts)
		},
		querykit.CapPrefetchInfiniteQuery: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			fn, opts, err := fetchArgs[querykit.InfiniteOptions](args)
			if err != nil {
				return nil, err
			}
			return nil, c.PrefetchInfiniteQuery(ctx, key, fn, opts)
		},
		querykit.CapGetQueryData: func(_ context.Context, key querykit.Key, _ ...any) (any, error) {
			v, _ := c.GetQueryData(key)
			return v, nil
		},
		querykit.CapGetQueryState: func(_ context.Context, key querykit.Key, _ ...any) (any, error) {
			st, ok := c.GetQueryState(key)
			if !ok {
				return nil, nil
			}
			return st, nil
		},
		querykit.CapSetQueryData: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			u, err := updaterArg(args, 0)
			if err != nil {
				return nil, err
			}
			return c.SetQueryData(key, u), nil
		},
		querykit.CapGetQueriesData: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			return c.GetQueriesData(f), nil
		},
		querykit.CapSetQueriesData: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			u, err := updaterArg(args, 0)
			if err != nil {
				return nil, err
			}
			f, err := filtersArg(key, args, 1)
			if err != nil {
				return nil, err
			}
			return c.SetQueriesData(f, u), nil
		},
		querykit.CapInvalidateQueries: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			return nil, c.InvalidateQueries(ctx, f)
		},
		querykit.CapRefetchQueries: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			return nil, c.RefetchQueries(ctx, f)
		},
		querykit.CapCancelQueries: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			c.CancelQueries(f)
			return nil, nil
		},
		querykit.CapRemoveQueries: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			c.RemoveQueries(f)
			return nil, nil
		},
		querykit.CapResetQueries: func(ctx context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			return nil, c.ResetQueries(ctx, f)
		},
		querykit.CapIsFetching: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := filtersArg(key, args, 0)
			if err != nil {
				return nil, err
			}
			return c.IsFetching(f), nil
		},
		querykit.CapIsMutating: func(_ context.Context, key querykit.Key, args ...any) (any, error) {
			f, err := querykit.Arg[querykit.MutationFilters](args, 0)
			if err != nil {
				return nil, err
			}
			f.Key = key
			return c.IsMutating(f), nil
		},
	}
}

func fetchArgs[O any](args []any) (querykit.QueryFunc, O, error) {
	var opts O
	var fn querykit.QueryFunc
	if len(args) > 0 {
		switch f := args[0].(type) {
		case querykit.QueryFunc:
			fn = f
		case func(context.Context, querykit.QueryFuncContext) (any, error):
			fn = f
		case nil:
		default:
			return nil, opts, fmt.Errorf("%w: argument 0 is %T, want QueryFunc", querykit.ErrBadArgument, args[0])
		}
	}
	opts, err := querykit.Arg[O](args, 1)
	return fn, opts, err
}

func filtersArg(key querykit.Key, args []any, i int) (querykit.QueryFilters, error) {
	f, err := querykit.Arg[querykit.QueryFilters](args, i)
	if err != nil {
		return f, err
	}
	f.Key = key
	return f, nil
}

// updaterArg accepts an Updater, its func literal form, or a plain value.
func updaterArg(args []any, i int) (querykit.Updater, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing value or updater", querykit.ErrBadArgument)
	}
	switch v := args[i].(type) {
	case querykit.Updater:
		return v, nil
	case func(prev any, ok bool) any:
		return v, nil
	default:
		return func(any, bool) any { return v }, nil
	}
}
