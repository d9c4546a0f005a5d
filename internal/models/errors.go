package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer. Callers match with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrResource        = errors.New("resource exhausted")
	ErrNotFound        = errors.New("not found")
	ErrIO              = errors.New("i/o failure")
	ErrNotImplemented  = errors.New("not implemented")
)

// PersistError reports a mutation that was applied in memory but could not be made durable.
type PersistError struct {
	Op       string
	OwnerID  string
	RecordID string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s %s/%s: %v", e.Op, e.OwnerID, e.RecordID, e.Err)
}

// Unwrap exposes both ErrIO and the underlying cause.
func (e *PersistError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// IsNotDurable reports whether err means "accepted but not yet durable".
func IsNotDurable(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}
