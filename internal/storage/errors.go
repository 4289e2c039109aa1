package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStore matches every *StoreError via errors.Is.
var ErrStore = errors.New("store failure")

// StoreError is returned when a storage transaction cannot open, execute or
// commit. The unit of work it belongs to had no visible effect.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
