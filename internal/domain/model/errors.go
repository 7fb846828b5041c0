package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds shared across the pipeline.
var (
	ErrValidation         = errors.New("validation failed")
	ErrClassificationMiss = errors.New("no geofence matched")
	ErrDuplicate          = errors.New("duplicate")
	ErrSubmit             = errors.New("batch submission failed")
	ErrInsertTransient    = errors.New("transient insert failure")
	ErrInsertPermanent    = errors.New("permanent insert failure")
	ErrFetch              = errors.New("geofence fetch failed")
	ErrMalformedBatch     = errors.New("malformed batch")
)

// ValidationError reports an event rejected by the normalizer.
type ValidationError struct {
	Reason string
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Reason, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// SubmitError reports a batch that could not be handed to the task queue.
type SubmitError struct {
	BatchKey string
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit batch %s after %d attempts: %v", e.BatchKey, e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error        { return e.Err }
func (e *SubmitError) Is(target error) bool { return target == ErrSubmit }

// InsertError wraps a storage failure with its retry classification.
type InsertError struct {
	Transient bool
	Err       error
}

func (e *InsertError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s insert failure: %v", kind, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

func (e *InsertError) Is(target error) bool {
	if e.Transient {
		return target == ErrInsertTransient
	}
	return target == ErrInsertPermanent
}

// FetchError reports a geofence refresh that exhausted its attempts.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("geofence fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error        { return e.Err }
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInsertPermanent) || errors.Is(err, ErrMalformedBatch) || errors.Is(err, ErrValidation)
}
