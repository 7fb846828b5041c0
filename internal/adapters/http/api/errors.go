package api

import (
	"errors"
	"fmt"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotArray    = errors.New("webhook body must be a JSON array")
	ErrForbidden   = errors.New("remote address not allowed")
	ErrUnavailable = errors.New("receiver is shutting down")
	ErrIngest      = errors.New("ingest failed")
)

// NewKind tags kind with the operation that produced it.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags kind and keeps cause in the chain.
func WrapKind(op string, kind, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, cause)
}
