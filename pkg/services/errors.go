package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a conversation or ticket does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy is returned when the per-conversation lock could not be
	// acquired within the bounded wait
	ErrBusy = errors.New("conversation busy")

	// ErrCorrupted is returned for an unreadable record; the conversation
	// fails closed until a human intervenes
	ErrCorrupted = errors.New("corrupted record")

	// ErrConversationClosed is returned when a turn arrives for a closed
	// conversation
	ErrConversationClosed = errors.New("conversation closed")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
