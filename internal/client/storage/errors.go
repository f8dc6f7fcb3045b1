package storage

import "errors"

// Common client storage errors
var (
	// ErrStepNotFound indicates that journal step was not found
	ErrStepNotFound = errors.New("journal step not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
