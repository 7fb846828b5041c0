package dispatch

import "errors"

// Sentinel kinds for dispatch errors.
var (
	ErrEmptyBatch = errors.New("empty batch")
)
