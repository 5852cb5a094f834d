package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError rejects a submission before anything is persisted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// AlreadyLinkedError rejects a second asset attachment to a derivation.
type AlreadyLinkedError struct {
	DerivationID string
}

func (e *AlreadyLinkedError) Error() string {
	return fmt.Sprintf("derivation %s already has a linked asset", e.DerivationID)
}
