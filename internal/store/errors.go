package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist, including the
	// case where it was deleted by another actor after the caller loaded it.
	ErrNotFound = errors.New("record not found")

	// ErrNotDeletable is returned when deleting a record whose lifecycle
	// no longer permits deletion.
	ErrNotDeletable = errors.New("record lifecycle does not permit deletion")
)
