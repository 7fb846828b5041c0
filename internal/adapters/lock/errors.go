package lock

import "errors"

// Sentinel kinds for lock errors.
var (
	// ErrUnavailable marks a lock store failure. Callers treat it as transient.
	ErrUnavailable = errors.New("lock store unavailable")
)
