// Package genstore keeps the per-key generations that guard persisted query
// values. A value written under generation g is only served while the key is
// still at g; invalidation bumps the generation.
package genstore

import "context"

// GenStore abstracts where generations live. Local keeps them in process;
// Redis shares them between replicas and across restarts.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(ctx context.Context) error
}
