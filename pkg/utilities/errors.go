package utilities

import (
	"errors"
	"fmt"
)

// ErrDependencyUnavailable marks failures of storage or collaborator I/O. Callers
// treat the outcome as indeterminate and retry with backoff.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// Unavailable wraps err so that errors.Is(err, ErrDependencyUnavailable) holds
// while keeping the original cause in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDependencyUnavailable, err)
}
