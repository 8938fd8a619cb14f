package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorMissing indicates a request without an acting user.
	ErrActorMissing = errors.New("actor missing")
)
