package querykit

import (
	"context"
	"fmt"

	"dario.cat/mergo"
)

// ArgsKeying decides whether call arguments become part of the cache key.
type ArgsKeying uint8

const (
	// ArgsInKey appends call arguments after the explicit key suffix.
	ArgsInKey ArgsKeying = iota
	// ArgsOutOfKey only hands arguments to the resource function, so calls
	// with different arguments share one entry.
	ArgsOutOfKey
)

// QueryType selects the operation group a toolkit realises. The zero value
// lets the constructor decide.
type QueryType uint8

const (
	Single QueryType = iota + 1
	Paginated
)

func (t QueryType) String() string {
	switch t {
	case Single:
		return "single"
	case Paginated:
		return "paginated"
	default:
		return "unset"
	}
}

// Resolver produces the data for one key. For paginated toolkits it is
// called once per page with qc.PageParam set.
type Resolver[T any] func(ctx context.Context, qc QueryFuncContext) (T, error)

// ResourceFunc binds call arguments to a resolver.
type ResourceFunc[A, T any] func(args A) Resolver[T]

// QueryToolkitOptions configure a toolkit at creation time.
type QueryToolkitOptions[T any] struct {
	Args ArgsKeying
	Type QueryType

	// Defaults is the lowest-priority option layer of every call.
	Defaults QueryOptions
	// InfiniteDefaults is layered over Defaults for paginated toolkits.
	InfiniteDefaults InfiniteOptions

	// Persister, when set, backs the resolver with a generation-checked
	// read-through store.
	Persister Persister[T]

	// Require lists client capabilities the toolkit relies on beyond
	// RequiredCapabilities.
	Require []string
}

// CreatorOptions configure a QueryCreator.
type CreatorOptions struct {
	Logger Logger
}

// QueryCreator validates a client once and builds toolkits over it.
type QueryCreator struct {
	client Client
	caps   map[string]Capability
	log    Logger
}

// NewQueryCreator checks that client offers RequiredCapabilities.
func NewQueryCreator(client Client, opts CreatorOptions) (*QueryCreator, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	caps := client.Capabilities()
	if missing := missingCapabilities(caps, RequiredCapabilities); len(missing) > 0 {
		return nil, &MissingCapabilityError{Names: missing}
	}
	log := opts.Logger
	if log == nil {
		log = NopLogger{}
	}
	return &QueryCreator{client: client, caps: caps, log: log}, nil
}

// Client returns the client the creator was built over.
func (qc *QueryCreator) Client() Client { return qc.client }

// QueryToolkit is implemented by *SingleQuery and *InfiniteQuery. Use a type
// switch, or the Query and Infinite constructors, to reach the mode-specific
// operations.
type QueryToolkit[A, T any] interface {
	Type() QueryType
	// Key returns the identity key.
	Key() Key
	// KeyFor returns the composite key a call with suffix and args uses.
	KeyFor(suffix Key, args A) Key

	UseIsFetching(filters QueryFilters) Counter
	IsFetching(filters QueryFilters) int

	InvalidateQueries(ctx context.Context, filters QueryFilters) error
	RefetchQueries(ctx context.Context, filters QueryFilters) error
	CancelQueries(filters QueryFilters)
	RemoveQueries(filters QueryFilters)
	ResetQueries(ctx context.Context, filters QueryFilters) error

	Capability(name string) (Operation, error)
	Call(ctx context.Context, name string, args ...any) (any, error)
	Capabilities() []string

	queryToolkit()
}

// NewQuery returns a *SingleQuery or an *InfiniteQuery depending on
// opts.Type.
func NewQuery[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T]) (QueryToolkit[A, T], error) {
	if opts.Type == Paginated {
		q, err := newInfinite(qc, key, fn, opts)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	q, err := newSingle(qc, key, fn, opts)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Query builds a single-query toolkit. It fails with ErrModeMismatch when
// opts.Type is Paginated.
func Query[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T]) (*SingleQuery[A, T], error) {
	if opts.Type != 0 && opts.Type != Single {
		return nil, fmt.Errorf("%w: Query called with type %s", ErrModeMismatch, opts.Type)
	}
	return newSingle(qc, key, fn, opts)
}

// Infinite builds a paginated toolkit. It fails with ErrModeMismatch when
// opts.Type is Single.
func Infinite[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T]) (*InfiniteQuery[A, T], error) {
	if opts.Type != 0 && opts.Type != Paginated {
		return nil, fmt.Errorf("%w: Infinite called with type %s", ErrModeMismatch, opts.Type)
	}
	return newInfinite(qc, key, fn, opts)
}

// toolkit holds what both query variants share. Everything here is fixed at
// construction; all mutable state lives in the client.
type toolkit[A, T any] struct {
	client  Client
	id      Key
	compose func(Key) Key
	fn      ResourceFunc[A, T]
	opts    QueryToolkitOptions[T]
	mode    QueryType
	log     Logger
	table   *capabilityTable
}

func newToolkit[A, T any](qc *QueryCreator, key Key, fn ResourceFunc[A, T], opts QueryToolkitOptions[T], mode QueryType) (*toolkit[A, T], error) {
	if qc == nil {
		return nil, ErrNilCreator
	}
	if fn == nil {
		return nil, ErrNilFunc
	}
	if missing := missingCapabilities(qc.caps, opts.Require); len(missing) > 0 {
		return nil, &MissingCapabilityError{Names: missing}
	}
	opts.Type = mode
	t := &toolkit[A, T]{
		client:  qc.client,
		id:      Compose(key)(nil),
		compose: Compose(key),
		fn:      fn,
		opts:    opts,
		mode:    mode,
		log:     qc.log,
		table:   newCapabilityTable(),
	}
	t.table.forward(qc.caps, t.compose)
	t.table.set(CapUseIsFetching, func(_ context.Context, args ...any) (any, error) {
		f, err := Arg[QueryFilters](args, 0)
		if err != nil {
			return nil, err
		}
		return t.UseIsFetching(f), nil
	})
	t.table.set(CapIsFetching, func(_ context.Context, args ...any) (any, error) {
		f, err := Arg[QueryFilters](args, 0)
		if err != nil {
			return nil, err
		}
		return t.IsFetching(f), nil
	})
	if opts.Persister != nil {
		t.table.set(CapInvalidateQueries, func(ctx context.Context, args ...any) (any, error) {
			suffix, rest := splitKey(args)
			f, err := Arg[QueryFilters](rest, 0)
			if err != nil {
				return nil, err
			}
			if suffix != nil {
				f.Key = suffix
			}
			return nil, t.InvalidateQueries(ctx, f)
		})
		t.table.set(CapResetQueries, func(ctx context.Context, args ...any) (any, error) {
			suffix, rest := splitKey(args)
			f, err := Arg[QueryFilters](rest, 0)
			if err != nil {
				return nil, err
			}
			if suffix != nil {
				f.Key = suffix
			}
			return nil, t.ResetQueries(ctx, f)
		})
	}
	return t, nil
}

func (t *toolkit[A, T]) queryToolkit() {}

func (t *toolkit[A, T]) Type() QueryType { return t.mode }

func (t *toolkit[A, T]) Key() Key { return Compose(t.id)(nil) }

func (t *toolkit[A, T]) KeyFor(suffix Key, args A) Key {
	seg := append(Key(nil), suffix...)
	if t.opts.Args == ArgsInKey {
		seg = append(seg, ArgSegments(args)...)
	}
	return t.compose(seg)
}

func (t *toolkit[A, T]) scoped(f QueryFilters) QueryFilters {
	f.Key = t.compose(f.Key)
	return f
}

func (t *toolkit[A, T]) UseIsFetching(filters QueryFilters) Counter {
	return t.client.WatchIsFetching(t.scoped(filters))
}

func (t *toolkit[A, T]) IsFetching(filters QueryFilters) int {
	return t.client.IsFetching(t.scoped(filters))
}

// InvalidateQueries marks matching entries stale and refetches the observed
// ones. With a Persister the persisted copies are invalidated first.
func (t *toolkit[A, T]) InvalidateQueries(ctx context.Context, filters QueryFilters) error {
	f := t.scoped(filters)
	t.unpersist(ctx, f)
	return t.client.InvalidateQueries(ctx, f)
}

func (t *toolkit[A, T]) RefetchQueries(ctx context.Context, filters QueryFilters) error {
	return t.client.RefetchQueries(ctx, t.scoped(filters))
}

func (t *toolkit[A, T]) CancelQueries(filters QueryFilters) {
	t.client.CancelQueries(t.scoped(filters))
}

func (t *toolkit[A, T]) RemoveQueries(filters QueryFilters) {
	t.client.RemoveQueries(t.scoped(filters))
}

// ResetQueries restores matching entries to their initial state and
// refetches the observed ones. Persisted copies are invalidated first so
// the refetch reaches the resolver.
func (t *toolkit[A, T]) ResetQueries(ctx context.Context, filters QueryFilters) error {
	f := t.scoped(filters)
	t.unpersist(ctx, f)
	return t.client.ResetQueries(ctx, f)
}

// unpersist invalidates the persisted copies of the entries matching f.
func (t *toolkit[A, T]) unpersist(ctx context.Context, f QueryFilters) {
	p := t.opts.Persister
	if p == nil {
		return
	}
	for _, e := range t.client.GetQueriesData(f) {
		for _, k := range t.persistedKeys(e) {
			if err := p.Invalidate(ctx, k); err != nil {
				t.log.Warn("persisted invalidate failed", Fields{"key": k.String(), "err": err})
			}
		}
	}
}

// Capability resolves a named operation. Names of the other query mode fail
// with ErrModeInactive and names the client does not offer fail with
// *UnknownCapabilityError.
func (t *toolkit[A, T]) Capability(name string) (Operation, error) {
	return t.table.lookup(name)
}

// Call resolves name and invokes it.
func (t *toolkit[A, T]) Call(ctx context.Context, name string, args ...any) (any, error) {
	op, err := t.table.lookup(name)
	if err != nil {
		return nil, err
	}
	return op(ctx, args...)
}

// Capabilities lists the operation names the toolkit resolves.
func (t *toolkit[A, T]) Capabilities() []string { return t.table.names() }

// persistedKeys returns the persister keys backing one cached entry: the
// entry key itself, or one key per loaded page.
func (t *toolkit[A, T]) persistedKeys(e KeyedData) []Key {
	d, ok := e.Data.(InfiniteData)
	if !ok || t.mode != Paginated {
		return []Key{e.Key}
	}
	out := make([]Key, 0, len(d.PageParams))
	for _, p := range d.PageParams {
		out = append(out, pageKey(e.Key, p))
	}
	return out
}

// resolver binds args and wraps the result in the persisted read-through
// when a Persister is configured. The persister is read only while the entry
// holds no data; refetches of a loaded entry always reach the resolver and
// overwrite the persisted copy.
func (t *toolkit[A, T]) resolver(key Key, args A) QueryFunc {
	r := t.fn(args)
	p := t.opts.Persister
	if p == nil {
		return func(ctx context.Context, qc QueryFuncContext) (any, error) {
			return r(ctx, qc)
		}
	}
	return func(ctx context.Context, qc QueryFuncContext) (any, error) {
		pk := pageKey(key, qc.PageParam)
		if !t.loaded(key) {
			v, ok, err := p.Load(ctx, pk)
			if err != nil {
				t.log.Warn("persisted load failed", Fields{"key": pk.String(), "err": err})
			} else if ok {
				return v, nil
			}
		}
		gen := p.SnapshotGen(ctx, pk)
		v, err := r(ctx, qc)
		if err != nil {
			return nil, err
		}
		if err := p.SaveWithGen(ctx, pk, v, gen); err != nil {
			t.log.Warn("persisted save failed", Fields{"key": pk.String(), "err": err})
		}
		return v, nil
	}
}

// loaded reports whether the entry at key already holds data.
func (t *toolkit[A, T]) loaded(key Key) bool {
	st, ok := t.client.GetQueryState(key)
	return ok && st.HasData()
}

// persist writes v best-effort after a direct cache write.
func (t *toolkit[A, T]) persist(key Key, v T) {
	p := t.opts.Persister
	if p == nil {
		return
	}
	ctx := context.Background()
	if err := p.SaveWithGen(ctx, key, v, p.SnapshotGen(ctx, key)); err != nil {
		t.log.Debug("persisted write skipped", Fields{"key": key.String(), "err": err})
	}
}

func pageKey(key Key, param any) Key {
	if param == nil {
		return key
	}
	return Compose(key)(Key{param})
}

// mergeQueryOptions layers calls over def. Non-zero fields of later layers
// win, set pointer fields win even when they point at false or zero, and Meta
// is merged key by key into fresh maps. def is never modified.
func mergeQueryOptions(def QueryOptions, calls []QueryOptions) QueryOptions {
	out := def
	out.Key = append(Key(nil), def.Key...)
	out.Meta = mergeMeta(nil, def.Meta)
	for _, o := range calls {
		out = layerQueryOptions(out, o)
	}
	return out
}

func layerQueryOptions(out, o QueryOptions) QueryOptions {
	meta, retry, enabled := o.Meta, o.Retry, o.Enabled
	o.Meta, o.Retry, o.Enabled = nil, nil, nil
	if err := mergo.Merge(&out, o, mergo.WithOverride); err != nil {
		// mergo only fails on mismatched types
		panic(err)
	}
	if retry != nil {
		out.Retry = Int(*retry)
	}
	if enabled != nil {
		out.Enabled = Bool(*enabled)
	}
	out.Meta = mergeMeta(out.Meta, meta)
	return out
}

func mergeInfiniteOptions(def QueryOptions, inf InfiniteOptions, calls []InfiniteOptions) InfiniteOptions {
	out := InfiniteOptions{QueryOptions: mergeQueryOptions(def, nil)}
	for _, o := range append([]InfiniteOptions{inf}, calls...) {
		q := o.QueryOptions
		o.QueryOptions = QueryOptions{}
		if err := mergo.Merge(&out, o, mergo.WithOverride); err != nil {
			panic(err)
		}
		out.QueryOptions = layerQueryOptions(out.QueryOptions, q)
	}
	return out
}

// mergeMeta copies src into dst key by key, descending into nested
// map[string]any values. dst must be a map built by mergeMeta; src is only
// read.
func mergeMeta(dst, src map[string]any) map[string]any {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			prev, _ := dst[k].(map[string]any)
			v = mergeMeta(prev, sub)
		}
		dst[k] = v
	}
	return dst
}

func typed[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

// fetched converts a fetch result. nil data is a zero T, anything else of
// another type is ErrTypeMismatch.
func fetched[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok && v != nil {
		return t, fmt.Errorf("%w: got %T", ErrTypeMismatch, v)
	}
	return t, nil
}

// Entry is a typed (key, data) pair.
type Entry[D any] struct {
	Key  Key
	Data D
}

// State is a typed QueryState.
type State[D any] struct {
	QueryState
	Data D
}

func stateOf[D any](st QueryState, dec func(any) (D, bool)) State[D] {
	d, _ := dec(st.Data)
	return State[D]{QueryState: st, Data: d}
}

func entriesOf[D any](in []KeyedData, dec func(any) (D, bool)) []Entry[D] {
	out := make([]Entry[D], 0, len(in))
	for _, kd := range in {
		d, _ := dec(kd.Data)
		out = append(out, Entry[D]{Key: kd.Key, Data: d})
	}
	return out
}

// updaterOf adapts a typed updater to the client. A previous value of the
// wrong type is passed as absent.
func updaterOf[D any](fn func(prev D, ok bool) D, dec func(any) (D, bool), enc func(D) any) Updater {
	return func(prev any, ok bool) any {
		p, pok := dec(prev)
		return enc(fn(p, ok && pok))
	}
}

// setterArg accepts either an updater function or a plain value.
func setterArg[D any](args []any, i int) (func(prev D, ok bool) D, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing value or updater", ErrBadArgument)
	}
	switch v := args[i].(type) {
	case func(prev D, ok bool) D:
		return v, nil
	case D:
		return func(D, bool) D { return v }, nil
	}
	var zero D
	return nil, fmt.Errorf("%w: argument %d is %T, want %T or updater", ErrBadArgument, i, args[i], zero)
}
