package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by lookups that got an HTTP 404.
var ErrNotFound = errors.New("record not found")

// LookupError represents a remote lookup failure with the stage it failed at
type LookupError struct {
	Stage      string
	ID         string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("lookup %s failed at %s stage (status %d): %v", e.ID, e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("lookup %s failed at %s stage: %v", e.ID, e.Stage, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError creates a new LookupError
func NewLookupError(stage, id string, statusCode int, err error) *LookupError {
	return &LookupError{
		Stage:      stage,
		ID:         id,
		StatusCode: statusCode,
		Err:        err,
	}
}

// IsNotFound reports whether err means the record does not exist upstream.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
