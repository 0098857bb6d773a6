package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"

	"github.com/roach88/membersync/internal/transform"
)

// ErrTargetAbsent is returned by an Applier when an update names an entity
// the target does not hold. It needs manual reconciliation and is never
// retried.
var ErrTargetAbsent = errors.New("target entity absent")

// ErrorClass decides how the orchestrator resolves a failed record.
type ErrorClass string

const (
	// ClassTransient failures go back to pending with backoff.
	ClassTransient ErrorClass = "transient"

	// ClassValidation failures are permanent: the change cannot be
	// expressed in the target's shape.
	ClassValidation ErrorClass = "validation"

	// ClassTargetAbsent is an update to an entity the target lacks.
	ClassTargetAbsent ErrorClass = "target_absent"
)

// Permanent reports whether records failing with this class are marked
// failed without retry.
func (c ErrorClass) Permanent() bool {
	return c == ClassValidation || c == ClassTargetAbsent
}

// SyncError is a classified failure raised while delivering one change.
//
// Adapters return a SyncError when they know better than Classify, for
// example a remote 4xx response that would otherwise look like a network
// error.
type SyncError struct {
	// Class selects retry, fail or skip.
	Class ErrorClass

	// Message is a human-readable description.
	Message string

	// EntityKey and ChangeID locate the record, when known.
	EntityKey string
	ChangeID  string

	// Details contains additional context such as an HTTP status.
	Details map[string]string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ChangeID != "" {
		return fmt.Sprintf("%s: %s (change=%s)", e.Class, msg, e.ChangeID)
	}
	return fmt.Sprintf("%s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(err error, details map[string]string) *SyncError {
	return &SyncError{Class: ClassTransient, Err: err, Details: details}
}

// NewPermanent wraps err as a validation failure.
func NewPermanent(err error, details map[string]string) *SyncError {
	return &SyncError{Class: ClassValidation, Err: err, Details: details}
}

// Classify maps an apply or transform error onto an ErrorClass. Anything
// it does not recognise is transient, so a record is never failed for an
// error nobody understood.
func Classify(err error) ErrorClass {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Class
	}
	var ve *transform.ValidationError
	switch {
	case errors.As(err, &ve):
		return ClassValidation
	case errors.Is(err, ErrTargetAbsent):
		return ClassTargetAbsent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return ClassTransient
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		if sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked {
			return ClassTransient
		}
		if sqlErr.Code == sqlite3.ErrConstraint {
			return ClassValidation
		}
	}
	return ClassTransient
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsPermanent reports whether err fails a record immediately.
func IsPermanent(err error) bool {
	return err != nil && Classify(err).Permanent()
}
