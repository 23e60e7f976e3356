package querykit

import (
	"context"
	"fmt"

	"dario.cat/mergo"
)

// MutationAction performs one typed write.
type MutationAction[A, T any] func(ctx context.Context, args A) (T, error)

// MutationCreator builds mutation toolkits over one client.
type MutationCreator struct {
	client Client
}

func NewMutationCreator(client Client) (*MutationCreator, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &MutationCreator{client: client}, nil
}

// MutationToolkit binds a mutation action to an identity key. Unlike query
// toolkits it never forwards to the client: only useMutation, useIsMutating
// and isMutating resolve.
type MutationToolkit[A, T any] struct {
	client   Client
	id       Key
	compose  func(Key) Key
	fn       MutationAction[A, T]
	defaults MutationOptions
	table    *capabilityTable
}

// NewMutation returns a toolkit for fn under key. defaults is the lowest
// option layer of every UseMutation call. mc must come from
// NewMutationCreator; a nil creator panics with ErrNilCreator.
func NewMutation[A, T any](mc *MutationCreator, key Key, fn MutationAction[A, T], defaults MutationOptions) *MutationToolkit[A, T] {
	if mc == nil {
		panic(ErrNilCreator)
	}
	m := &MutationToolkit[A, T]{
		client:   mc.client,
		id:       Compose(key)(nil),
		compose:  Compose(key),
		fn:       fn,
		defaults: defaults,
		table:    newCapabilityTable(),
	}
	m.table.set(CapUseMutation, func(ctx context.Context, args ...any) (any, error) {
		o, err := Arg[MutationOptions](args, 0)
		if err != nil {
			return nil, err
		}
		return m.UseMutation(ctx, o), nil
	})
	m.table.set(CapUseIsMutating, func(_ context.Context, args ...any) (any, error) {
		f, err := Arg[MutationFilters](args, 0)
		if err != nil {
			return nil, err
		}
		return m.UseIsMutating(f), nil
	})
	m.table.set(CapIsMutating, func(_ context.Context, args ...any) (any, error) {
		f, err := Arg[MutationFilters](args, 0)
		if err != nil {
			return nil, err
		}
		return m.IsMutating(f), nil
	})
	return m
}

func (m *MutationToolkit[A, T]) Key() Key { return Compose(m.id)(nil) }

// UseMutation returns an observer whose mutations run under the identity key
// plus the merged options' Key.
func (m *MutationToolkit[A, T]) UseMutation(ctx context.Context, opts ...MutationOptions) *Mutation[A, T] {
	o := m.options(opts)
	o.Key = m.compose(o.Key)
	obs := m.client.WatchMutation(ctx, m.action(), o)
	return &Mutation[A, T]{obs: obs, updates: relay(obs.Updates(), snapshotOf[A, T])}
}

// UseIsMutating counts in-flight mutations matching filters across the whole
// client; filters are not scoped to the identity key.
func (m *MutationToolkit[A, T]) UseIsMutating(filters MutationFilters) Counter {
	return m.client.WatchIsMutating(filters)
}

// IsMutating counts in-flight mutations under the identity key plus
// filters.Key.
func (m *MutationToolkit[A, T]) IsMutating(filters MutationFilters) int {
	filters.Key = m.compose(filters.Key)
	return m.client.IsMutating(filters)
}

func (m *MutationToolkit[A, T]) Capability(name string) (Operation, error) {
	return m.table.lookup(name)
}

func (m *MutationToolkit[A, T]) Call(ctx context.Context, name string, args ...any) (any, error) {
	op, err := m.table.lookup(name)
	if err != nil {
		return nil, err
	}
	return op(ctx, args...)
}

// options layers calls over the toolkit defaults the way query options are
// layered: a set Retry wins even at zero and Meta merges into fresh maps.
func (m *MutationToolkit[A, T]) options(calls []MutationOptions) MutationOptions {
	out := m.defaults
	out.Key = append(Key(nil), m.defaults.Key...)
	out.Meta = mergeMeta(nil, m.defaults.Meta)
	for _, o := range calls {
		meta, retry := o.Meta, o.Retry
		o.Meta, o.Retry = nil, nil
		if err := mergo.Merge(&out, o, mergo.WithOverride); err != nil {
			panic(err)
		}
		if retry != nil {
			out.Retry = Int(*retry)
		}
		out.Meta = mergeMeta(out.Meta, meta)
	}
	return out
}

func (m *MutationToolkit[A, T]) action() MutationFunc {
	return func(ctx context.Context, variables any) (any, error) {
		if m.fn == nil {
			return nil, ErrNilFunc
		}
		a, ok := variables.(A)
		if !ok && variables != nil {
			var zero A
			return nil, fmt.Errorf("%w: variables are %T, want %T", ErrBadArgument, variables, zero)
		}
		return m.fn(ctx, a)
	}
}

// MutationSnapshot is a typed MutationResult.
type MutationSnapshot[A, T any] struct {
	MutationResult
	Variables A
	Data      T
}

func snapshotOf[A, T any](r MutationResult) MutationSnapshot[A, T] {
	v, _ := typed[A](r.Variables)
	d, _ := typed[T](r.Data)
	return MutationSnapshot[A, T]{MutationResult: r, Variables: v, Data: d}
}

// Mutation is a typed view of the client's MutationObserver.
type Mutation[A, T any] struct {
	obs     MutationObserver
	updates <-chan MutationSnapshot[A, T]
}

// Mutate starts a mutation and returns at once. IsMutating counts it from
// the moment Mutate returns.
func (m *Mutation[A, T]) Mutate(args A) { m.obs.Mutate(args) }

// MutateAsync runs a mutation and waits for its result.
func (m *Mutation[A, T]) MutateAsync(ctx context.Context, args A) (T, error) {
	v, err := m.obs.MutateAsync(ctx, args)
	if err != nil {
		var zero T
		return zero, err
	}
	return fetched[T](v)
}

// Result reports the latest mutation started through m.
func (m *Mutation[A, T]) Result() MutationSnapshot[A, T] { return snapshotOf[A, T](m.obs.Result()) }

func (m *Mutation[A, T]) Updates() <-chan MutationSnapshot[A, T] { return m.updates }

// Reset returns the observer to idle. Running mutations are not cancelled.
func (m *Mutation[A, T]) Reset() { m.obs.Reset() }

func (m *Mutation[A, T]) Close() { m.obs.Close() }
