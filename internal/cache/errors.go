package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity is not in the cache
// (or exists only as a tombstone).
var ErrNotFound = errors.New("not found")

// StoreError is the single failure type for all cache operations: disk and
// serialization problems surface through it synchronously to the caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("local store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
