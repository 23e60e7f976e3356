package persist

import (
	"errors"
	"fmt"
)

var (
	ErrNoProvider  = errors.New("persist: provider is required")
	ErrNoCodec     = errors.New("persist: codec is required")
	ErrNoNamespace = errors.New("persist: namespace is required")
)

// InvalidateError reports a failed invalidation. A failed bump leaves the old
// frame servable until it is deleted; a failed delete alone is harmless since
// the frame no longer matches the generation.
type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("persist: invalidate %s: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("persist: invalidate %s: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("persist: invalidate %s: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("persist: invalidate %s: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
