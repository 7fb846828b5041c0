package taskqueue

import "errors"

// Sentinel kinds for transport errors.
var (
	ErrUnknownDriver = errors.New("unknown task queue driver")
	ErrConnect       = errors.New("task queue connect failed")
)
