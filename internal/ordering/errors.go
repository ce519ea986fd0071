package ordering

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveSession = errors.New("no active table session")
	ErrItemNotFound    = errors.New("order item not found")
)

// ValidationError rejects a request before anything is mutated
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
