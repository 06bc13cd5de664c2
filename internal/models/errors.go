package models

import "errors"

var (
	// ErrValidation marks missing or malformed input; nothing was touched.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a ride that is not in the status a transition requires.
	ErrConflict = errors.New("ride status conflict")
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks a persistence or proximity query failure.
	ErrUpstream = errors.New("upstream failure")
)
