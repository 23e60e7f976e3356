package querykit

import (
	"context"
	"time"
)

// QueryStatus is the data status of a cached query.
type QueryStatus uint8

const (
	StatusPending QueryStatus = iota // no data yet
	StatusError
	StatusSuccess
)

func (s QueryStatus) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusSuccess:
		return "success"
	default:
		return "pending"
	}
}

// FetchStatus reports whether a resolver is currently running for a query.
type FetchStatus uint8

const (
	FetchIdle FetchStatus = iota
	FetchFetching
)

func (s FetchStatus) String() string {
	if s == FetchFetching {
		return "fetching"
	}
	return "idle"
}

// QueryState is the stored state of one cache entry.
type QueryState struct {
	Data           any
	DataUpdatedAt  time.Time
	Error          error
	ErrorUpdatedAt time.Time
	FailureCount   int
	Status         QueryStatus
	FetchStatus    FetchStatus
	IsInvalidated  bool
}

// HasData reports whether the entry ever resolved or was written.
func (s QueryState) HasData() bool { return !s.DataUpdatedAt.IsZero() }

// PageDirection tells a paginated resolver which way it is loading.
type PageDirection uint8

const (
	Forward PageDirection = iota
	Backward
)

// QueryFuncContext is handed to every resolver invocation.
type QueryFuncContext struct {
	Key       Key
	PageParam any
	Direction PageDirection
	Meta      map[string]any
}

// QueryFunc resolves the data for one key.
type QueryFunc func(ctx context.Context, qc QueryFuncContext) (any, error)

// QueryOptions configure a single fetch or observer. Zero fields fall back to
// the client defaults.
type QueryOptions struct {
	// Key is an explicit suffix appended after the identity key and before
	// any call arguments.
	Key Key

	StaleTime time.Duration
	GCTime    time.Duration
	// Retry is the number of retries after a failed attempt. nil uses the
	// caller-kind default; zero or negative disables retries.
	Retry      *int
	RetryDelay time.Duration
	// Timeout bounds a single fetch including retries.
	Timeout time.Duration
	// Enabled set to false keeps observers from fetching on their own.
	// nil means enabled.
	Enabled *bool
	// InitialData seeds an entry that does not exist yet.
	InitialData func() (any, bool)
	Meta        map[string]any
}

// IsEnabled reports whether observers may fetch on their own.
func (o QueryOptions) IsEnabled() bool { return o.Enabled == nil || *o.Enabled }

// Bool returns a pointer to v for optional option fields.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v for optional option fields.
func Int(v int) *int { return &v }

// InfiniteOptions configure paginated queries.
type InfiniteOptions struct {
	QueryOptions

	InitialPageParam any
	// GetNextPageParam returns the param of the page after the last one, or
	// ok=false when there is none.
	GetNextPageParam     func(lastPage any, allPages []any, lastParam any) (any, bool)
	GetPreviousPageParam func(firstPage any, allPages []any, firstParam any) (any, bool)
	// MaxPages caps how many pages are kept. Zero keeps all.
	MaxPages int
	// Pages is how many pages the first fetch loads. Zero loads one.
	Pages int
}

// InfiniteData is the stored value of a paginated query.
type InfiniteData struct {
	Pages      []any
	PageParams []any
}

// QueryTypeFilter narrows filters to entries with or without observers.
type QueryTypeFilter uint8

const (
	QueryTypeAll QueryTypeFilter = iota
	QueryTypeActive
	QueryTypeInactive
)

// QueryFilters select cache entries. Key matches by prefix unless Exact.
type QueryFilters struct {
	Key   Key
	Exact bool
	Type  QueryTypeFilter
	// Stale, when set, keeps only entries whose staleness equals *Stale.
	Stale *bool
	// Fetching keeps only entries with a resolver in flight.
	Fetching  bool
	Predicate func(key Key, state QueryState) bool
}

// KeyedData pairs an entry key with its data.
type KeyedData struct {
	Key  Key
	Data any
}

// Updater computes a new value from the previous one. ok is false when the
// entry had no data.
type Updater func(prev any, ok bool) any

// MutationStatus is the lifecycle status of a mutation.
type MutationStatus uint8

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "idle"
	}
}

// MutationState is the state of one mutation execution.
type MutationState struct {
	ID           string
	Key          Key
	Status       MutationStatus
	Variables    any
	Data         any
	Error        error
	Context      any
	FailureCount int
	SubmittedAt  time.Time
	// Meta is the merged MutationOptions.Meta the execution ran with.
	Meta map[string]any
}

// MutationFilters select mutation executions. Key matches by prefix unless
// Exact.
type MutationFilters struct {
	Key       Key
	Exact     bool
	Predicate func(state MutationState) bool
}

// MutationFunc performs a write.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// MutationOptions configure a mutation observer.
type MutationOptions struct {
	Key Key
	// Retry is the number of retries after a failed attempt. nil and
	// non-positive values disable retries.
	Retry      *int
	RetryDelay time.Duration
	GCTime     time.Duration
	Meta       map[string]any

	// OnMutate runs before the mutation; its result is passed to the
	// other callbacks as mctx. An error aborts the mutation.
	OnMutate  func(ctx context.Context, variables any) (any, error)
	OnSuccess func(ctx context.Context, data, variables, mctx any)
	OnError   func(ctx context.Context, err error, variables, mctx any)
	OnSettled func(ctx context.Context, data any, err error, variables, mctx any)
}

// QueryResult is what an observer reports for its entry.
type QueryResult struct {
	QueryState
	Key     Key
	IsStale bool
}

// IsLoading reports a first fetch without data.
func (r QueryResult) IsLoading() bool {
	return r.Status == StatusPending && r.FetchStatus == FetchFetching
}

// InfiniteResult is what a paginated observer reports.
type InfiniteResult struct {
	QueryResult
	Pages           InfiniteData
	HasNextPage     bool
	HasPreviousPage bool
}

// MutationResult is what a mutation observer reports.
type MutationResult struct {
	MutationState
}

// QueryObserver is a reactive binding to one entry.
type QueryObserver interface {
	Result() QueryResult
	// Updates delivers the latest result after every change. Intermediate
	// results may be skipped. The channel closes on Close.
	Updates() <-chan QueryResult
	Refetch(ctx context.Context) (QueryResult, error)
	Close()
}

// InfiniteObserver is a reactive binding to one paginated entry.
type InfiniteObserver interface {
	Result() InfiniteResult
	Updates() <-chan InfiniteResult
	FetchNextPage(ctx context.Context) (InfiniteResult, error)
	FetchPreviousPage(ctx context.Context) (InfiniteResult, error)
	Refetch(ctx context.Context) (InfiniteResult, error)
	Close()
}

// MutationObserver triggers mutations and reports the latest one.
type MutationObserver interface {
	// Mutate starts a mutation without waiting for it. The pending count
	// includes it when Mutate returns.
	Mutate(variables any)
	MutateAsync(ctx context.Context, variables any) (any, error)
	Result() MutationResult
	Updates() <-chan MutationResult
	Reset()
	Close()
}

// Counter is a reactive count.
//
// Value always reads a live snapshot and agrees with the imperative
// IsFetching/IsMutating. Updates is notified asynchronously and may lag
// behind Value.
type Counter interface {
	Value() int
	Updates() <-chan int
	Close()
}

// Capability is a client operation addressed by key. Remaining arguments are
// operation-specific.
type Capability func(ctx context.Context, key Key, args ...any) (any, error)

// Client is the cache a toolkit wraps. It owns every cached value, fetch
// state and subscription; toolkits only supply keys and resolvers.
type Client interface {
	FetchQuery(ctx context.Context, key Key, fn QueryFunc, opts QueryOptions) (any, error)
	// PrefetchQuery warms an entry. Resolver errors are recorded on the entry
	// and not returned.
	PrefetchQuery(ctx context.Context, key Key, fn QueryFunc, opts QueryOptions) error
	FetchInfiniteQuery(ctx context.Context, key Key, fn QueryFunc, opts InfiniteOptions) (InfiniteData, error)
	PrefetchInfiniteQuery(ctx context.Context, key Key, fn QueryFunc, opts InfiniteOptions) error

	GetQueryData(key Key) (any, bool)
	GetQueryState(key Key) (QueryState, bool)
	SetQueryData(key Key, updater Updater) any
	GetQueriesData(filters QueryFilters) []KeyedData
	SetQueriesData(filters QueryFilters, updater Updater) []KeyedData

	InvalidateQueries(ctx context.Context, filters QueryFilters) error
	RefetchQueries(ctx context.Context, filters QueryFilters) error
	CancelQueries(filters QueryFilters)
	RemoveQueries(filters QueryFilters)
	ResetQueries(ctx context.Context, filters QueryFilters) error

	IsFetching(filters QueryFilters) int
	IsMutating(filters MutationFilters) int

	WatchQuery(ctx context.Context, key Key, fn QueryFunc, opts QueryOptions) QueryObserver
	WatchInfiniteQuery(ctx context.Context, key Key, fn QueryFunc, opts InfiniteOptions) InfiniteObserver
	WatchIsFetching(filters QueryFilters) Counter
	WatchMutation(ctx context.Context, fn MutationFunc, opts MutationOptions) MutationObserver
	WatchIsMutating(filters MutationFilters) Counter

	// Capabilities lists every operation the client supports by name.
	Capabilities() map[string]Capability
}

// Persister stores resolved values outside the client so that they survive
// restarts or are shared between replicas. Writes are generation-checked.
type Persister[T any] interface {
	Load(ctx context.Context, key Key) (T, bool, error)
	SnapshotGen(ctx context.Context, key Key) uint64
	SaveWithGen(ctx context.Context, key Key, value T, observedGen uint64) error
	Invalidate(ctx context.Context, key Key) error
}
