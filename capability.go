package querykit

import (
	"context"
	"fmt"
	"sort"
)

// Capability names shared by the client and the toolkits.
const (
	CapFetchQuery            = "fetchQuery"
	CapPrefetchQuery         = "prefetchQuery"
	CapFetchInfiniteQuery    = "fetchInfiniteQuery"
	CapPrefetchInfiniteQuery = "prefetchInfiniteQuery"
	CapUseQuery              = "useQuery"
	CapUseInfiniteQuery      = "useInfiniteQuery"
	CapGetQueryData          = "getQueryData"
	CapGetQueryState         = "getQueryState"
	CapSetQueryData          = "setQueryData"
	CapGetQueriesData        = "getQueriesData"
	CapSetQueriesData        = "setQueriesData"
	CapInvalidateQueries     = "invalidateQueries"
	CapRefetchQueries        = "refetchQueries"
	CapCancelQueries         = "cancelQueries"
	CapRemoveQueries         = "removeQueries"
	CapResetQueries          = "resetQueries"
	CapIsFetching            = "isFetching"
	CapUseIsFetching         = "useIsFetching"
	CapIsMutating            = "isMutating"
	CapUseIsMutating         = "useIsMutating"
	CapUseMutation           = "useMutation"
)

// RequiredCapabilities must be offered by every client handed to a creator.
var RequiredCapabilities = []string{
	CapFetchQuery,
	CapPrefetchQuery,
	CapFetchInfiniteQuery,
	CapPrefetchInfiniteQuery,
	CapGetQueryData,
	CapGetQueryState,
	CapSetQueryData,
	CapInvalidateQueries,
	CapRemoveQueries,
	CapResetQueries,
	CapIsFetching,
	CapIsMutating,
}

// Operation is a toolkit capability resolved by name.
type Operation func(ctx context.Context, args ...any) (any, error)

// capabilityTable is built once per toolkit: hand-written operations, names
// of the inactive query mode, and everything else forwarded to the client.
type capabilityTable struct {
	ops      map[string]Operation
	inactive map[string]struct{}
}

func newCapabilityTable() *capabilityTable {
	return &capabilityTable{
		ops:      make(map[string]Operation),
		inactive: make(map[string]struct{}),
	}
}

// forward registers every client capability with its key argument rewritten
// through compose.
func (t *capabilityTable) forward(caps map[string]Capability, compose func(Key) Key) {
	for name, c := range caps {
		c := c
		t.ops[name] = func(ctx context.Context, args ...any) (any, error) {
			suffix, rest := splitKey(args)
			return c(ctx, compose(suffix), rest...)
		}
	}
}

func (t *capabilityTable) set(name string, op Operation) {
	delete(t.inactive, name)
	t.ops[name] = op
}

func (t *capabilityTable) disable(names ...string) {
	for _, name := range names {
		delete(t.ops, name)
		t.inactive[name] = struct{}{}
	}
}

func (t *capabilityTable) lookup(name string) (Operation, error) {
	if op, ok := t.ops[name]; ok {
		return op, nil
	}
	if _, ok := t.inactive[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrModeInactive, name)
	}
	return nil, &UnknownCapabilityError{Name: name}
}

func (t *capabilityTable) names() []string {
	out := make([]string, 0, len(t.ops))
	for name := range t.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// splitKey takes a leading Key (or []any, or nil) off args.
func splitKey(args []any) (Key, []any) {
	if len(args) == 0 {
		return nil, nil
	}
	switch k := args[0].(type) {
	case Key:
		return k, args[1:]
	case []any:
		return Key(k), args[1:]
	case nil:
		return nil, args[1:]
	}
	return nil, args
}

func missingCapabilities(caps map[string]Capability, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := caps[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Arg returns args[i] as T. A missing or nil argument yields the zero value.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i >= len(args) || args[i] == nil {
		return zero, nil
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %d is %T, want %T", ErrBadArgument, i, args[i], zero)
	}
	return v, nil
}
