package deleteop

import (
	"fmt"
	"time"
)

// NotFoundError reports that the delete target does not exist or is already deleted.
// It matches ErrEntityNotFound with errors.Is.
type NotFoundError struct {
	WorldID  string
	EntityID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found in world %s", e.EntityID, e.WorldID)
}

// Is lets errors.Is(err, ErrEntityNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrEntityNotFound
}

// CapacityError reports that the concurrency gate is saturated for a scope.
// It matches ErrCapacityExceeded with errors.Is.
type CapacityError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("too many delete operations in progress for %s, retry after %s", e.Scope, e.RetryAfter)
}

// Is lets errors.Is(err, ErrCapacityExceeded) match.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
