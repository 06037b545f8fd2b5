package versionstore

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-dagvc/pkg/validation"
)

// Common sentinel errors
var (
	ErrNotFound        = errors.New("snapshot not found")
	ErrBundleNotFound  = errors.New("bundle not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrInvalidSnapshot = errors.New("snapshot failed validation")
	ErrInvalidBundle   = errors.New("bundle failed validation")
	ErrNoRegistry      = errors.New("no agent registry configured")
)

// StoreError provides structured error information for store operations.
type StoreError struct {
	Op      string // Operation that failed (e.g., "update", "rollback")
	Entity  string // "snapshot", "bundle" or "version"
	ID      string // Hash, bundle id or version label
	Cause   error  // Underlying error
	Context string // Additional context
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		if e.Context != "" {
			return fmt.Sprintf("%s %s %s (%s): %v", e.Op, e.Entity, e.ID, e.Context, e.Cause)
		}
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Cause)
	}
	if e.Context != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Entity, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *StoreError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

func snapshotError(op, hash string, cause error) error {
	return &StoreError{Op: op, Entity: "snapshot", ID: hash, Cause: cause}
}

func bundleError(op, id string, cause error) error {
	return &StoreError{Op: op, Entity: "bundle", ID: id, Cause: cause}
}

// ValidationError reports a snapshot that was rejected before being stored.
type ValidationError struct {
	Op     string
	Result validation.Result
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Result.Reason, e.Result.Type())
}

// Unwrap lets errors.Is match ErrInvalidSnapshot.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidSnapshot
}

// BundleValidationError reports a bundle that failed validation.
type BundleValidationError struct {
	BundleID string
	Result   validation.Result
}

func (e *BundleValidationError) Error() string {
	if e.BundleID == "" {
		return fmt.Sprintf("bundle invalid: %s (%s)", e.Result.Reason, e.Result.Type())
	}
	return fmt.Sprintf("bundle %s invalid: %s (%s)", e.BundleID, e.Result.Reason, e.Result.Type())
}

// Unwrap lets errors.Is match ErrInvalidBundle.
func (e *BundleValidationError) Unwrap() error {
	return ErrInvalidBundle
}

// RollbackError reports a rollback that could not produce a working
// snapshot. Result is set when the target exists but is invalid.
type RollbackError struct {
	Target string
	Result *validation.Result
	Cause  error
}

func (e *RollbackError) Error() string {
	if e.Result != nil {
		return fmt.Sprintf("rollback to %s: %v: %s", e.Target, e.Cause, e.Result.Reason)
	}
	return fmt.Sprintf("rollback to %s: %v", e.Target, e.Cause)
}

func (e *RollbackError) Unwrap() error {
	return e.Cause
}

// IsNotFound returns true if the error is any of the store's not found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBundleNotFound) || errors.Is(err, ErrVersionNotFound)
}
