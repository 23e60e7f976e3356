package querykit

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCapability is matched by every *UnknownCapabilityError.
	ErrUnknownCapability = errors.New("querykit: unknown capability")
	// ErrModeInactive is returned when an operation of the other query mode
	// is looked up, e.g. fetchQuery on a paginated toolkit.
	ErrModeInactive = errors.New("querykit: operation not available in this query mode")
	// ErrModeMismatch is returned by Query/Infinite when the options name the
	// other mode.
	ErrModeMismatch = errors.New("querykit: query type does not match constructor")
	// ErrTypeMismatch is returned when a cached value is not of the toolkit's
	// data type.
	ErrTypeMismatch = errors.New("querykit: cached value has unexpected type")
	// ErrBadArgument is returned by capability calls with wrongly typed args.
	ErrBadArgument = errors.New("querykit: bad capability argument")
	ErrNilClient   = errors.New("querykit: client is nil")
	ErrNilCreator  = errors.New("querykit: creator is nil")
	ErrNilFunc     = errors.New("querykit: resource or mutation function is nil")
)

// UnknownCapabilityError names a toolkit property that is neither built in nor
// offered by the client.
type UnknownCapabilityError struct {
	Name string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("querykit: unknown capability %q", e.Name)
}

func (e *UnknownCapabilityError) Is(target error) bool { return target == ErrUnknownCapability }

// MissingCapabilityError is returned at construction when the client lacks
// operations a toolkit depends on.
type MissingCapabilityError struct {
	Names []string
}

func (e *MissingCapabilityError) Error() string {
	return "querykit: client is missing capabilities: " + strings.Join(e.Names, ", ")
}
