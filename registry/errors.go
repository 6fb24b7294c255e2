package registry

import "errors"

// Common registry errors.
var (
	// ErrNotFound is returned when no live slot holds the referenced component.
	ErrNotFound = errors.New("component not found")

	// ErrDuplicate is returned by Add when a live component already uses the id.
	ErrDuplicate = errors.New("component id already registered")
)
