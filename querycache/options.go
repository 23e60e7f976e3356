package querycache

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/querykit"
)

const (
	defaultGCTime          = 5 * time.Minute
	defaultObserverRetry   = 3
	defaultRetryBaseDelay  = time.Second
	defaultCleanupInterval = time.Minute
	maxRetryDelay          = 30 * time.Second
)

// Options configure a Client. Per-call QueryOptions and MutationOptions
// override the matching fields.
type Options struct {
	Logger querykit.Logger // nil => NopLogger
	Hooks  querykit.Hooks  // nil => NopHooks

	// StaleTime is how long fetched data counts as fresh. 0 => stale at once.
	StaleTime time.Duration
	// GCTime is how long an unobserved entry (or a settled mutation) is kept.
	// 0 => 5m.
	GCTime time.Duration
	// Retry is the number of retries for fetches started by observers or
	// active refetches. 0 => 3; negative disables. Imperative fetches and
	// mutations never retry unless their own options ask for it.
	Retry int
	// RetryBaseDelay is the first backoff interval. 0 => 1s.
	RetryBaseDelay time.Duration
	// CleanupInterval is the GC sweep period. 0 => 1m.
	CleanupInterval time.Duration
}

func (o Options) validate() error {
	switch {
	case o.StaleTime < 0:
		return fmt.Errorf("%w: StaleTime must not be negative", ErrInvalidOptions)
	case o.GCTime < 0:
		return fmt.Errorf("%w: GCTime must not be negative", ErrInvalidOptions)
	case o.RetryBaseDelay < 0:
		return fmt.Errorf("%w: RetryBaseDelay must not be negative", ErrInvalidOptions)
	case o.CleanupInterval < 0:
		return fmt.Errorf("%w: CleanupInterval must not be negative", ErrInvalidOptions)
	}
	return nil
}
