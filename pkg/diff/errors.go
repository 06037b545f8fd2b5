package diff

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when an add targets an id that already exists.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrNotFound is returned when a modify or remove targets a missing id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidChange is returned for malformed changes.
	ErrInvalidChange = errors.New("invalid change")
)

// ApplyError reports the change that could not be applied.
type ApplyError struct {
	Index  int
	Change Change
	Cause  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply change %d (%s): %v", e.Index, e.Change, e.Cause)
}

func (e *ApplyError) Unwrap() error {
	return e.Cause
}

func applyErr(i int, c Change, cause error, format string, args ...any) *ApplyError {
	if format != "" {
		cause = fmt.Errorf("%w: %s", cause, fmt.Sprintf(format, args...))
	}
	return &ApplyError{Index: i, Change: c, Cause: cause}
}
