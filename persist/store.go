// Package persist keeps resolved query values in a byte store outside the
// query cache, guarded by per-key generations.
//
// Keys:
//
//	q:<ns>:<hash(key)>  - one frame per query key (or page key)
//
// CAS pattern, as the query toolkits run it:
//
//	obs := store.SnapshotGen(ctx, k) // before resolving
//	v, _ := resolve(ctx)
//	_ = store.SaveWithGen(ctx, k, v, obs) // written iff gen is still obs
//
// A frame is only served while its generation matches the key's current
// one, so a save racing an Invalidate can never resurrect the old value.
package persist

import (
	"context"
	"time"

	"github.com/unkn0wn-root/querykit"
	"github.com/unkn0wn-root/querykit/codec"
	"github.com/unkn0wn-root/querykit/genstore"
	"github.com/unkn0wn-root/querykit/internal/util"
	"github.com/unkn0wn-root/querykit/internal/wire"
	"github.com/unkn0wn-root/querykit/provider"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultSweep        = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

// SetCostFunc sizes a frame for cost-aware providers (ristretto).
type SetCostFunc func(storageKey string, frame []byte) int64

// Options configure a Store. Namespace, Provider and Codec are required.
type Options[T any] struct {
	Namespace string // e.g. "app:prod:users"
	Provider  provider.Provider
	Codec     codec.Codec[T]

	GenStore        genstore.GenStore // nil => genstore.Local
	TTL             time.Duration     // 0 => 10m
	MaxAge          time.Duration     // frames older than this self-heal; 0 disables
	CleanupInterval time.Duration     // Local gen sweep; 0 => 1h
	GenRetention    time.Duration     // Local gen retention; 0 => 30d
	ComputeSetCost  SetCostFunc       // nil => len(frame)
	Disabled        bool
	Logger          querykit.Logger // nil => NopLogger
	Hooks           querykit.Hooks  // nil => NopHooks
}

// Store implements querykit.Persister.
type Store[T any] struct {
	ns       string
	provider provider.Provider
	codec    codec.Codec[T]
	gen      genstore.GenStore
	ownsGen  bool
	log      querykit.Logger
	hooks    querykit.Hooks
	enabled  bool
	ttl      time.Duration
	maxAge   time.Duration
	cost     SetCostFunc
	now      func() time.Time
}

var _ querykit.Persister[struct{}] = (*Store[struct{}])(nil)

func New[T any](opts Options[T]) (*Store[T], error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}
	if opts.Namespace == "" {
		return nil, ErrNoNamespace
	}

	s := &Store[T]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
		maxAge:   opts.MaxAge,
		now:      time.Now,
	}

	// defaults
	s.log = util.Coalesce[querykit.Logger](opts.Logger, querykit.NopLogger{})
	s.hooks = util.Coalesce[querykit.Hooks](opts.Hooks, querykit.NopHooks{})
	s.ttl = util.Coalesce(opts.TTL, defaultTTL)

	if opts.ComputeSetCost != nil {
		s.cost = opts.ComputeSetCost
	} else {
		s.cost = func(_ string, frame []byte) int64 { return int64(len(frame)) }
	}

	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = genstore.NewLocal(
			util.Coalesce(opts.CleanupInterval, defaultSweep),
			util.Coalesce(opts.GenRetention, defaultGenRetention),
		)
		s.ownsGen = true
	}
	return s, nil
}

func (s *Store[T]) Enabled() bool { return s.enabled }

// Close releases the generation store it created and the provider.
func (s *Store[T]) Close(ctx context.Context) error {
	if s.ownsGen {
		_ = s.gen.Close(ctx)
	}
	return s.provider.Close(ctx)
}

// StorageKey returns the provider key for key.
func (s *Store[T]) StorageKey(key querykit.Key) string {
	return util.StorageKey("q:"+s.ns, key.ID())
}

// Load returns the persisted value for key. Frames that are corrupt, written
// under an older generation, older than MaxAge or undecodable are deleted
// and reported as a miss. Only provider errors are returned.
func (s *Store[T]) Load(ctx context.Context, key querykit.Key) (T, bool, error) {
	var zero T
	if !s.enabled {
		return zero, false, nil
	}
	k := s.StorageKey(key)
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	f, err := wire.Decode(raw)
	if err != nil {
		s.selfHeal(ctx, k, "corrupt")
		return zero, false, nil
	}
	if f.Gen != s.snapshotGen(ctx, k) {
		s.selfHeal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	if s.maxAge > 0 && !f.SavedAt.IsZero() && s.now().Sub(f.SavedAt) > s.maxAge {
		s.selfHeal(ctx, k, "expired")
		return zero, false, nil
	}
	v, err := s.codec.Decode(f.Payload)
	if err != nil {
		s.selfHeal(ctx, k, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// SnapshotGen returns the generation to pass to SaveWithGen. Take it before
// resolving the value.
func (s *Store[T]) SnapshotGen(ctx context.Context, key querykit.Key) uint64 {
	return s.snapshotGen(ctx, s.StorageKey(key))
}

// SaveWithGen writes value iff the key is still at observedGen. A moved
// generation is not an error; the write is skipped.
func (s *Store[T]) SaveWithGen(ctx context.Context, key querykit.Key, value T, observedGen uint64) error {
	if !s.enabled {
		return nil
	}
	k := s.StorageKey(key)
	if s.snapshotGen(ctx, k) != observedGen {
		s.log.Debug("persist save skipped (gen moved)", querykit.Fields{"key": key.String(), "obs": observedGen})
		return nil
	}
	payload, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	frame := wire.Encode(wire.Frame{Gen: observedGen, SavedAt: s.now(), Payload: payload})
	ok, err := s.provider.Set(ctx, k, frame, s.cost(k, frame), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.PersistSetRejected(k)
		s.log.Debug("persist save rejected by provider", querykit.Fields{"key": key.String()})
	}
	return nil
}

// Invalidate bumps the generation and deletes the frame. Either step alone
// keeps the old frame from being served: a bumped generation fails the
// check on read, a deleted frame is a miss.
func (s *Store[T]) Invalidate(ctx context.Context, key querykit.Key) error {
	if !s.enabled {
		return nil
	}
	k := s.StorageKey(key)
	newGen, bumpErr := s.gen.Bump(ctx, k)
	if bumpErr != nil {
		s.hooks.GenError("bump", k, bumpErr)
	}
	delErr := s.provider.Del(ctx, k)
	if bumpErr != nil && delErr != nil {
		s.log.Error("persist invalidate failed", querykit.Fields{"key": key.String(), "bump_err": bumpErr, "del_err": delErr})
		return &InvalidateError{Key: key.String(), BumpErr: bumpErr, DelErr: delErr}
	}
	if bumpErr != nil {
		return &InvalidateError{Key: key.String(), BumpErr: bumpErr}
	}
	s.log.Debug("persist invalidated", querykit.Fields{"key": key.String(), "gen": newGen})
	return nil
}

func (s *Store[T]) snapshotGen(ctx context.Context, storageKey string) uint64 {
	g, err := s.gen.Snapshot(ctx, storageKey)
	if err != nil {
		// treat as 0: CAS writes under a real gen skip, reads self-heal
		s.hooks.GenError("snapshot", storageKey, err)
		s.log.Warn("gen snapshot error", querykit.Fields{"key": storageKey, "err": err})
		return 0
	}
	return g
}

func (s *Store[T]) selfHeal(ctx context.Context, storageKey, reason string) {
	_ = s.provider.Del(ctx, storageKey)
	s.hooks.PersistSelfHeal(storageKey, reason)
	s.log.Debug("persist self-heal", querykit.Fields{"key": storageKey, "reason": reason})
}
