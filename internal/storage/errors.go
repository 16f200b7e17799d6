// Package storage defines the persistence contract shared by store
// implementations and their consumers.
package storage

import "errors"

var (
	// ErrNotFound means no record exists under the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means a concurrent writer got there first: the record's
	// version moved between read and update. Callers retry with a bounded
	// budget; the losing update is never silently dropped.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrIllegalTransition means the requested status change violates the
	// feedback state machine.
	ErrIllegalTransition = errors.New("illegal status transition")
)
