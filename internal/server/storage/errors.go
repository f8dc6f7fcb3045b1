package storage

import "errors"

// Common storage errors
var (
	// ErrContentNotFound indicates that no saved state exists for the content
	ErrContentNotFound = errors.New("content not found")
)
