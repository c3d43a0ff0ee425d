package model

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected before any storage work happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NotFoundError reports a target that does not exist or is hidden from the
// operation (for example a soft-deleted row behind an active-only lookup).
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// StorageError wraps an engine failure together with the operation that hit
// it. Duplicate is set when the cause is a unique or primary key constraint.
type StorageError struct {
	Op        string
	Err       error
	Duplicate bool
}

func (e *StorageError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("storage %s: duplicate constraint: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BackupError reports a failed snapshot, metadata write or restore step.
type BackupError struct {
	Op   string
	Name string
	Err  error
}

func (e *BackupError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("backup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// UnsupportedModeError rejects a duplicate-cleanup mode this layer does not
// implement.
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported duplicate-deletion mode %q", e.Mode)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicateConstraint reports whether err is a storage failure caused by a
// unique or primary key violation.
func IsDuplicateConstraint(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Duplicate
}
