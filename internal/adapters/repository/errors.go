package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrUnknownDriver = errors.New("unknown storage driver")
)
