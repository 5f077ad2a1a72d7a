package model

import "errors"

// Domain-specific errors for object validation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidObject is returned when an object violates the base schema.
	ErrInvalidObject = errors.New("model: invalid object")

	// ErrInvalidCoreType is returned for a core type outside the closed set.
	ErrInvalidCoreType = errors.New("model: invalid core type")

	// ErrInvalidFilter is returned for a malformed context filter.
	ErrInvalidFilter = errors.New("model: invalid context filter")
)
