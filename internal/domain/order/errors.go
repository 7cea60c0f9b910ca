package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order lookups and updates.
var (
	ErrNotFound       = errors.New("order not found")
	ErrInvalidID      = errors.New("order id required")
	ErrInvalidStatus  = errors.New("unknown order status")
	ErrStatusConflict = errors.New("order status changed concurrently")
	ErrEmptyItems     = errors.New("order has no items")
)

// InvalidTransitionError indicates a status change that skips ahead, moves
// backwards or leaves a terminal status.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot change status from %s to %s", e.ID, e.From, e.To)
}

// PersistenceError indicates that the order store could not complete a
// write. An order whose Create failed must not be treated as placed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("order %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports that repeating the operation may succeed.
func (e *PersistenceError) Retryable() bool { return true }
