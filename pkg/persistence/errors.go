// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations use.
var (
	// ErrJourneyNotFound indicates no journey exists for the given id.
	ErrJourneyNotFound = errors.New("journey not found")

	// ErrEnrollmentNotFound indicates no enrollment exists for the given
	// id or (subject, journey) pair.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrDuplicateEnrollment indicates a non-terminal enrollment already
	// exists for the (subject, journey) pair.
	ErrDuplicateEnrollment = errors.New("active enrollment already exists")

	// ErrVersionConflict indicates an optimistic concurrency check failed:
	// the record changed since it was loaded.
	ErrVersionConflict = errors.New("enrollment version conflict")

	// ErrStatsNotFound indicates no stats record exists for the journey yet.
	ErrStatsNotFound = errors.New("journey stats not found")
)

// EnrollmentError wraps enrollment storage errors with operation context.
type EnrollmentError struct {
	Op           string
	EnrollmentID string
	Err          error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates an enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{Op: op, EnrollmentID: enrollmentID, Err: err}
}

// IsVersionConflict checks if an error indicates a failed optimistic write.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsDuplicateEnrollment checks if an error indicates the re-entry invariant held.
func IsDuplicateEnrollment(err error) bool {
	return errors.Is(err, ErrDuplicateEnrollment)
}
