package querykit

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on fetch and
// mutation paths. Wrap a slow implementation with hooks/async.
type Hooks interface {
	// A resolver started for key.
	FetchStarted(key Key)
	// A fetch finished (err == nil on success), retries included.
	FetchSettled(key Key, took time.Duration, err error)

	// An entry left the cache.
	// reason ∈ {"gc", "removed"}
	QueryRemoved(key Key, reason string)

	// A mutation finished (err == nil on success).
	MutationSettled(key Key, took time.Duration, err error)

	// The persister deleted an entry on read.
	// reason ∈ {"corrupt", "gen_mismatch", "expired", "value_decode"}
	PersistSelfHeal(storageKey, reason string)

	// The persistence provider returned ok=false on Set (backpressure/eviction).
	PersistSetRejected(storageKey string)

	// A generation store call failed.
	// op ∈ {"snapshot", "bump"}
	GenError(op, storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchStarted(Key)                          {}
func (NopHooks) FetchSettled(Key, time.Duration, error)    {}
func (NopHooks) QueryRemoved(Key, string)                  {}
func (NopHooks) MutationSettled(Key, time.Duration, error) {}
func (NopHooks) PersistSelfHeal(string, string)            {}
func (NopHooks) PersistSetRejected(string)                 {}
func (NopHooks) GenError(string, string, error)            {}
