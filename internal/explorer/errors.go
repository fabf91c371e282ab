package explorer

import (
	"errors"
	"fmt"
)

// ErrHistoryUnsupported is returned when the storage backend keeps no scan
// history.
var ErrHistoryUnsupported = errors.New("scan history is not supported by this storage backend")

// NotFoundError wraps an error to indicate a resource was not found (404).
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error { return e.Err }

// BadRequestError wraps an error to indicate invalid user input (400).
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return e.Err.Error() }
func (e *BadRequestError) Unwrap() error { return e.Err }

// NewBadRequestError creates a BadRequestError with a formatted message.
func NewBadRequestError(format string, args ...any) error {
	return &BadRequestError{Err: fmt.Errorf(format, args...)}
}
