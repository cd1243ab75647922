package utils

import (
	"errors"
	"fmt"
)

// NewError creates a new error with a message
func NewError(msg string) error {
	return errors.New(msg)
}

// WrapError wraps an error with additional context
func WrapError(err error, msg string) error {
	if err == nil {
		return errors.New(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// JoinErrors collects the non-nil errors of a shutdown or batch step
func JoinErrors(errs ...error) error {
	return errors.Join(errs...)
}
