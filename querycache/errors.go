package querycache

import "errors"

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("querycache: client closed")
	// ErrNoQueryFn is returned when an entry must be fetched but no resolver
	// was ever supplied for it.
	ErrNoQueryFn = errors.New("querycache: no query function for entry")
	// ErrInvalidOptions wraps option validation failures from New.
	ErrInvalidOptions = errors.New("querycache: invalid options")
)
